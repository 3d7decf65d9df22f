package gesture

import (
	"image"
	"math"
	"time"

	"jordanella.com/garden-go/internal/input"
	"jordanella.com/garden-go/internal/logging"
)

// Cursor is the interpolated pointer position used for drawing
type Cursor struct {
	X, Y float64
}

// Point rounds the cursor to the nearest pixel
func (c Cursor) Point() image.Point {
	return image.Point{X: int(math.Round(c.X)), Y: int(math.Round(c.Y))}
}

// span animates the cursor between a fired Down and its successor
type span struct {
	down, up     image.Point
	downAt, upAt time.Time
}

func (s *span) at(now time.Time) Cursor {
	total := s.upAt.Sub(s.downAt)
	progress := 1.0
	if total > 0 {
		progress = float64(now.Sub(s.downAt)) / float64(total)
		progress = math.Max(0, math.Min(1, progress))
	}
	return Cursor{
		X: float64(s.down.X) + float64(s.up.X-s.down.X)*progress,
		Y: float64(s.down.Y) + float64(s.up.Y-s.down.Y)*progress,
	}
}

// Replayer fires queued events with their recorded relative timing.
// Step, Cancel and the queue helpers are meant to be called from the
// scheduler goroutine only.
type Replayer struct {
	store    *Store
	queue    *Queue
	injector input.Injector
	log      *logging.Logger

	anchored bool
	lastWall time.Time // When the previous event fired
	lastTs   time.Time // Recorded timestamp of the previous event
	span     *span
	pressed  bool

	cursor    Cursor
	hasCursor bool
}

// NewReplayer creates a replayer reading from store and injecting through injector
func NewReplayer(store *Store, queue *Queue, injector input.Injector) *Replayer {
	if queue == nil {
		queue = NewQueue()
	}
	if injector == nil {
		injector = input.Noop{}
	}
	return &Replayer{
		store:    store,
		queue:    queue,
		injector: injector,
		log:      logging.NewLogger("GestureReplayer"),
	}
}

// Queue returns the replay queue
func (r *Replayer) Queue() *Queue {
	return r.queue
}

// Store returns the gesture store
func (r *Replayer) Store() *Store {
	return r.store
}

// Pending returns the number of queued events
func (r *Replayer) Pending() int {
	return r.queue.Len()
}

// QueueReplay enqueues every event of name verbatim
func (r *Replayer) QueueReplay(name string) error {
	seq, err := r.store.Load(name)
	if err != nil {
		r.log.ErrorWithContext("Failed to load gesture", err, map[string]interface{}{"gesture": name})
		return err
	}

	r.queue.Push(seq...)
	r.log.InfoWithContext("Queued gesture", map[string]interface{}{
		"gesture": name,
		"events":  len(seq),
	})
	return nil
}

// QueueReplayWithOffset enqueues name translated so its first event lands on (x, y)
func (r *Replayer) QueueReplayWithOffset(name string, x, y int) error {
	seq, err := r.store.Load(name)
	if err != nil {
		r.log.ErrorWithContext("Failed to load gesture", err, map[string]interface{}{"gesture": name})
		return err
	}

	moved := seq.Offset(x, y)
	r.queue.Push(moved...)
	r.log.InfoWithContext("Queued gesture with offset", map[string]interface{}{
		"gesture": name,
		"events":  len(moved),
		"target":  image.Point{X: x, Y: y},
		"offset":  image.Point{X: x - seq[0].X, Y: y - seq[0].Y},
	})
	return nil
}

// Step fires at most one event and recomputes the cursor. It returns the
// event that fired, if any.
func (r *Replayer) Step(now time.Time) (MouseEvent, bool) {
	next, ok := r.queue.Peek()
	if !ok {
		r.reset()
		return MouseEvent{}, false
	}

	var fired MouseEvent
	didFire := false
	if !r.anchored || now.Sub(r.lastWall) >= next.Timestamp.Sub(r.lastTs) {
		fired, _ = r.queue.Pop()
		didFire = true

		r.anchored = true
		r.lastWall = now
		r.lastTs = fired.Timestamp

		if fired.IsMouseDown {
			r.span = nil
			if succ, ok := r.queue.Peek(); ok {
				r.span = &span{
					down:   fired.Point(),
					downAt: now,
					up:     succ.Point(),
					upAt:   now.Add(succ.Timestamp.Sub(fired.Timestamp)),
				}
			}
		} else {
			r.span = nil
		}

		r.inject(fired)
	}

	if r.span != nil {
		r.cursor = r.span.at(now)
		r.hasCursor = true
	} else {
		r.hasCursor = false
	}

	return fired, didFire
}

// inject moves then presses or releases; failures are logged only
func (r *Replayer) inject(e MouseEvent) {
	if err := r.injector.MoveTo(e.X, e.Y); err != nil {
		r.log.ErrorWithContext("Pointer move failed", err, map[string]interface{}{"x": e.X, "y": e.Y})
	}

	var err error
	if e.IsMouseDown {
		err = r.injector.Press()
		r.pressed = err == nil
	} else {
		err = r.injector.Release()
		r.pressed = false
	}
	if err != nil {
		r.log.ErrorWithContext("Pointer button failed", err, map[string]interface{}{"down": e.IsMouseDown})
	}
}

func (r *Replayer) reset() {
	r.anchored = false
	r.lastWall = time.Time{}
	r.lastTs = time.Time{}
	r.span = nil
	r.hasCursor = false
}

// CurrentPosition returns the cursor computed by the last Step
func (r *Replayer) CurrentPosition() (Cursor, bool) {
	return r.cursor, r.hasCursor
}

// Cancel drops every queued event, releasing the pointer if a press is open
func (r *Replayer) Cancel() int {
	dropped := r.queue.Clear()
	if r.pressed {
		if err := r.injector.Release(); err != nil {
			r.log.Error("Pointer release failed", err)
		}
		r.pressed = false
	}
	r.reset()
	return dropped
}
