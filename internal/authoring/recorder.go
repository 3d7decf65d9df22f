package authoring

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"

	"jordanella.com/garden-go/internal/cv"
	"jordanella.com/garden-go/internal/logging"
)

var (
	ErrNotRecording = errors.New("roi authoring is not active")
	ErrBusy         = errors.New("still waiting for the previous roi name")
	ErrNoFrame      = errors.New("no frame captured yet")
)

// RoiSink persists an authored crop
type RoiSink interface {
	AddRoi(state, name string, box image.Rectangle, crop image.Image) error
}

// Recorder is the interactive ROI authoring tool. While recording, detection
// is suspended and every rectangle is cropped from the latest frame and saved
// under the active state once a name has been typed.
type Recorder struct {
	sink  RoiSink
	lines <-chan string
	log   *logging.Logger

	mu        sync.Mutex
	recording bool
	state     string
	frame     *image.RGBA
	start     *image.Point
	current   image.Point

	waiting atomic.Bool
	wg      sync.WaitGroup
	stop    chan struct{}
	once    sync.Once

	// saved is called after each successful save, mostly for tests
	saved func(state, name string)
}

// NewRecorder creates a recorder that takes ROI names from lines
func NewRecorder(sink RoiSink, lines <-chan string) *Recorder {
	return &Recorder{
		sink:  sink,
		lines: lines,
		log:   logging.NewLogger("RoiRecorder"),
		stop:  make(chan struct{}),
	}
}

// OnSaved registers a callback run after every stored ROI
func (r *Recorder) OnSaved(fn func(state, name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = fn
}

// Begin enters authoring mode for state
func (r *Recorder) Begin(state string) error {
	state = strings.TrimSpace(state)
	if state == "" {
		return fmt.Errorf("state name cannot be empty")
	}
	if strings.ContainsAny(state, `/\`) {
		return fmt.Errorf("state name cannot contain path separators")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return fmt.Errorf("roi authoring already active for %q", r.state)
	}
	r.recording = true
	r.state = state
	r.start = nil
	r.log.InfoWithContext("ROI recording started", map[string]interface{}{"state": state})
	return nil
}

// Cancel leaves authoring mode. A name wait in progress still completes.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.recording = false
	r.state = ""
	r.start = nil
	r.log.Info("ROI recording stopped")
}

// IsRecording reports whether authoring mode is active
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// IsWaitingForInput reports whether the next command line belongs to the
// recorder as an ROI name
func (r *Recorder) IsWaitingForInput() bool {
	return r.waiting.Load()
}

// State returns the state being authored
func (r *Recorder) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetCurrentFrame keeps a private copy of the latest frame to crop from
func (r *Recorder) SetCurrentFrame(frame *image.RGBA) {
	if frame == nil {
		return
	}
	c := cv.Clone(frame)
	r.mu.Lock()
	r.frame = c
	r.mu.Unlock()
}

// PointerDown starts a rectangle at p
func (r *Recorder) PointerDown(p image.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.start = &p
	r.current = p
}

// PointerMove updates the open rectangle
func (r *Recorder) PointerMove(p image.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || r.start == nil {
		return
	}
	r.current = p
}

// PointerUp closes the open rectangle at p and submits it
func (r *Recorder) PointerUp(p image.Point) error {
	r.mu.Lock()
	if !r.recording || r.start == nil {
		r.mu.Unlock()
		return nil
	}
	rect := image.Rectangle{Min: *r.start, Max: p}.Canon()
	r.start = nil
	r.mu.Unlock()

	if rect.Empty() {
		return nil
	}
	return r.SetRect(rect)
}

// CurrentRect returns the rectangle being drawn, if any
func (r *Recorder) CurrentRect() (image.Rectangle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || r.start == nil {
		return image.Rectangle{}, false
	}
	rect := image.Rectangle{Min: *r.start, Max: r.current}.Canon()
	if rect.Empty() {
		return image.Rectangle{}, false
	}
	return rect, true
}

// SetRect crops rect from the latest frame and waits in the background for
// its name. Recording stays active for the next rectangle.
func (r *Recorder) SetRect(rect image.Rectangle) error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	if r.frame == nil {
		r.mu.Unlock()
		return ErrNoFrame
	}
	frame, state := r.frame, r.state
	r.mu.Unlock()

	rect = rect.Canon()
	if !rect.In(frame.Bounds()) || rect.Empty() {
		return fmt.Errorf("roi %v is outside the frame %v", rect, frame.Bounds())
	}
	crop, err := cv.CropRegion(frame, rect)
	if err != nil {
		return fmt.Errorf("failed to crop roi: %w", err)
	}

	if !r.waiting.CompareAndSwap(false, true) {
		return ErrBusy
	}

	r.log.InfoWithContext("Enter ROI name", map[string]interface{}{"state": state, "rect": rect})
	r.wg.Add(1)
	go r.awaitName(state, rect, crop)
	return nil
}

func (r *Recorder) awaitName(state string, rect image.Rectangle, crop *image.RGBA) {
	defer r.wg.Done()
	defer r.waiting.Store(false)

	var name string
	select {
	case line, ok := <-r.lines:
		if !ok {
			return
		}
		name = strings.TrimSpace(line)
	case <-r.stop:
		return
	}

	if name == "" {
		r.log.Warn("ROI name cannot be empty, ROI discarded")
		return
	}
	if err := r.sink.AddRoi(state, name, rect, crop); err != nil {
		r.log.ErrorWithContext("Failed to save ROI", err, map[string]interface{}{"state": state, "name": name})
		return
	}
	r.log.InfoWithContext("ROI saved", map[string]interface{}{"state": state, "name": name})

	r.mu.Lock()
	saved := r.saved
	r.mu.Unlock()
	if saved != nil {
		saved(state, name)
	}
}

// Close abandons a pending name wait and waits for it to return
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}
