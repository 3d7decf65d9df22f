package scheduler

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/garden-go/internal/classifier"
	"jordanella.com/garden-go/internal/commands"
	"jordanella.com/garden-go/internal/cv"
	"jordanella.com/garden-go/internal/events"
	"jordanella.com/garden-go/internal/gesture"
	"jordanella.com/garden-go/internal/logging"
	"jordanella.com/garden-go/internal/overlay"
	"jordanella.com/garden-go/internal/policy"
)

// DefaultPeriod is the target iteration time (about 30 fps)
const DefaultPeriod = 33 * time.Millisecond

// Detector classifies frames and swaps template sets between iterations
type Detector interface {
	DetectState(frame *image.RGBA) classifier.Result
	ApplyPendingReload() bool
	Count() int
	StateCount() int
}

// Replayer is the gesture side of the loop
type Replayer interface {
	QueueReplay(name string) error
	QueueReplayWithOffset(name string, x, y int) error
	Step(now time.Time) (gesture.MouseEvent, bool)
	CurrentPosition() (gesture.Cursor, bool)
	Pending() int
}

// Author is the ROI authoring tool as seen by the loop
type Author interface {
	IsRecording() bool
	IsWaitingForInput() bool
	SetCurrentFrame(frame *image.RGBA)
	CurrentRect() (image.Rectangle, bool)
	State() string
}

// CommandSource yields pending command lines without blocking
type CommandSource interface {
	TryNext() (string, bool)
}

// Dispatcher runs one command line against the current frame
type Dispatcher interface {
	Handle(line string, frame *image.RGBA) error
}

// Config holds the loop's tunables
type Config struct {
	Period time.Duration
	// SettleDelay keeps detection paused for a while after the replay queue
	// drains so the screen can finish its transition.
	SettleDelay time.Duration
	Automation  bool
}

// Deps are the loop's collaborators. Capturer, Detector and Replayer are
// required; the rest fall back to no-ops.
type Deps struct {
	Capturer   cv.Capturer
	Detector   Detector
	Replayer   Replayer
	Policy     policy.Policy
	Author     Author
	Commands   CommandSource
	Dispatcher Dispatcher
	Sink       overlay.Sink
	Events     events.Publisher
}

// Loop is the frame scheduler. Everything it owns is touched only from the
// goroutine running Run.
type Loop struct {
	cfg  Config
	deps Deps
	log  *logging.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	automation atomic.Bool

	mu        sync.Mutex
	last      classifier.Result
	state     string
	drainedAt time.Time
	hadQueue  bool
	iteration uint64
}

// Option configures a Loop
type Option func(*Loop)

// WithClock replaces the wall clock and the pacing sleep
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) Option {
	return func(l *Loop) {
		l.now = now
		l.sleep = sleep
	}
}

// New creates a loop
func New(cfg Config, deps Deps, opts ...Option) *Loop {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if deps.Policy == nil {
		deps.Policy = policy.Noop{}
	}
	if deps.Sink == nil {
		deps.Sink = overlay.Discard{}
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}

	l := &Loop{
		cfg:   cfg,
		deps:  deps,
		log:   logging.NewLogger("FrameScheduler"),
		now:   time.Now,
		sleep: sleepContext,
	}
	l.automation.Store(cfg.Automation)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// SetDispatcher installs the command dispatcher. Call before Run; the
// dispatcher usually needs the loop itself for status and replays.
func (l *Loop) SetDispatcher(d Dispatcher) {
	l.deps.Dispatcher = d
}

// Automation is the runtime switch for the behavior policy
func (l *Loop) Automation() *atomic.Bool {
	return &l.automation
}

// Result returns the latest classification
func (l *Loop) Result() classifier.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Status summarizes the loop for the status command
func (l *Loop) Status() commands.Status {
	l.mu.Lock()
	s := commands.Status{
		State:      l.last.State,
		Score:      l.last.Score,
		Automation: l.automation.Load(),
	}
	l.mu.Unlock()

	s.Templates = l.deps.Detector.Count()
	s.States = l.deps.Detector.StateCount()
	s.Pending = l.deps.Replayer.Pending()
	if a := l.deps.Author; a != nil && a.IsRecording() {
		s.Authoring = a.State()
	}
	return s
}

// Run iterates until ctx is canceled or a quit command is dispatched
func (l *Loop) Run(ctx context.Context) error {
	l.log.InfoWithContext("Frame loop started", map[string]interface{}{
		"period":     l.cfg.Period.String(),
		"automation": l.automation.Load(),
	})
	defer l.log.Info("Frame loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := l.now()
		quit := l.iterate(start)
		if quit {
			return nil
		}

		elapsed := l.now().Sub(start)
		if elapsed > l.cfg.Period {
			l.log.DebugWithContext("Iteration overran period", map[string]interface{}{
				"iteration": l.iteration,
				"elapsed":   elapsed.String(),
			})
		}
		l.sleep(ctx, l.cfg.Period-elapsed)
	}
}

// iterate runs one pass and reports whether a quit command was seen
func (l *Loop) iterate(start time.Time) bool {
	l.iteration++

	if l.deps.Detector.ApplyPendingReload() {
		l.deps.Events.TryPublish(events.NewTemplatesReloadedEvent(l.deps.Detector.Count(), l.deps.Detector.StateCount()))
	}

	frame, err := l.deps.Capturer.CaptureFrame()
	if err != nil {
		l.log.Error("Frame capture failed", err)
		l.deps.Events.TryPublish(events.NewCaptureFailedEvent(err))
		return false
	}

	authoring := false
	if l.deps.Author != nil {
		l.deps.Author.SetCurrentFrame(frame)
		authoring = l.deps.Author.IsRecording()
	}

	if !authoring && l.readyToDetect(start) {
		l.detect(frame)
	}

	if ev, fired := l.deps.Replayer.Step(start); fired {
		l.deps.Events.TryPublish(events.NewGestureFiredEvent(ev.X, ev.Y, ev.IsMouseDown))
	}

	quit := l.runCommand(frame)

	l.present(frame, authoring)
	return quit
}

// readyToDetect is true once the replay queue has been empty for SettleDelay
func (l *Loop) readyToDetect(now time.Time) bool {
	if l.deps.Replayer.Pending() > 0 {
		l.hadQueue = true
		return false
	}
	if l.hadQueue {
		l.hadQueue = false
		l.drainedAt = now
	}
	if l.cfg.SettleDelay <= 0 || l.drainedAt.IsZero() {
		return true
	}
	return now.Sub(l.drainedAt) >= l.cfg.SettleDelay
}

func (l *Loop) detect(frame *image.RGBA) {
	result := l.deps.Detector.DetectState(frame)

	l.mu.Lock()
	l.last = result
	previous := l.state
	l.state = result.State
	l.mu.Unlock()

	if result.State != previous {
		l.log.InfoWithContext("State changed", map[string]interface{}{
			"from":  displayState(previous),
			"to":    displayState(result.State),
			"score": result.Score,
		})
		l.deps.Events.TryPublish(events.NewStateChangedEvent(previous, result.State, result.Score))
	}

	if result.Known() && l.automation.Load() {
		l.deps.Policy.HandleState(result.State, &handle{loop: l, source: "policy", state: result.State, matches: result.Matches})
	}
}

func displayState(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (l *Loop) runCommand(frame *image.RGBA) bool {
	if l.deps.Commands == nil || l.deps.Dispatcher == nil {
		return false
	}
	if l.deps.Author != nil && l.deps.Author.IsWaitingForInput() {
		return false
	}

	line, ok := l.deps.Commands.TryNext()
	if !ok {
		return false
	}

	err := l.deps.Dispatcher.Handle(line, frame)
	l.deps.Events.TryPublish(events.NewCommandEvent(line, err))
	if errors.Is(err, commands.ErrQuit) {
		l.log.Info("Quit requested")
		return true
	}
	if err != nil {
		l.log.WarnWithContext("Command rejected", map[string]interface{}{"command": line, "error": err.Error()})
	}
	return false
}

func (l *Loop) present(frame *image.RGBA, authoring bool) {
	v := overlay.View{Authoring: authoring, Result: l.Result()}
	if c, ok := l.deps.Replayer.CurrentPosition(); ok {
		p := c.Point()
		v.Cursor = &p
	}
	if authoring {
		if r, ok := l.deps.Author.CurrentRect(); ok {
			v.Rect = &r
		}
	}
	l.deps.Sink.Present(overlay.Render(frame, v))
}

// Replays returns a gesture handle for console commands
func (l *Loop) Replays() commands.Replays {
	return &handle{loop: l, source: "command"}
}

// handle is what policies and commands use to schedule gestures. Queued
// gestures are announced on the event bus.
type handle struct {
	loop    *Loop
	source  string
	state   string
	matches []classifier.RoiMatch
}

func (h *handle) QueueReplay(name string) error {
	before := h.loop.deps.Replayer.Pending()
	if err := h.loop.deps.Replayer.QueueReplay(name); err != nil {
		return err
	}
	h.announce(name, before, nil)
	return nil
}

func (h *handle) QueueReplayWithOffset(name string, x, y int) error {
	before := h.loop.deps.Replayer.Pending()
	if err := h.loop.deps.Replayer.QueueReplayWithOffset(name, x, y); err != nil {
		return err
	}
	h.announce(name, before, &image.Point{X: x, Y: y})
	return nil
}

func (h *handle) announce(name string, before int, target *image.Point) {
	state := h.state
	if state == "" {
		state = h.loop.Result().State
	}
	queued := h.loop.deps.Replayer.Pending() - before
	h.loop.deps.Events.TryPublish(events.NewGestureQueuedEvent(h.source, name, state, queued, target))
}

// RoiCenter finds where a template of the handled state matched this cycle
func (h *handle) RoiCenter(name string) (image.Point, bool) {
	for _, m := range h.matches {
		if m.Key.State == h.state && m.Key.Name == name && m.Computed {
			return m.Center, true
		}
	}
	return image.Point{}, false
}

var _ policy.Handle = (*handle)(nil)
