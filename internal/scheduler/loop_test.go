package scheduler

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/garden-go/internal/classifier"
	"jordanella.com/garden-go/internal/commands"
	"jordanella.com/garden-go/internal/cv"
	"jordanella.com/garden-go/internal/events"
	"jordanella.com/garden-go/internal/gesture"
	"jordanella.com/garden-go/internal/overlay"
	"jordanella.com/garden-go/internal/policy"
	"jordanella.com/garden-go/pkg/templates"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances when the loop sleeps or a test moves t, and cancels
// after limit sleeps
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.t = c.t.Add(d)
	}
	if len(c.sleeps) >= c.limit && c.cancel != nil {
		c.cancel()
	}
}

type fakeDetector struct {
	clock   *fakeClock
	results []classifier.Result
	calls   []time.Duration
	reload  bool
}

func (f *fakeDetector) DetectState(*image.RGBA) classifier.Result {
	f.calls = append(f.calls, f.clock.t.Sub(epoch))
	i := len(f.calls) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]
}

func (f *fakeDetector) ApplyPendingReload() bool {
	r := f.reload
	f.reload = false
	return r
}

func (f *fakeDetector) Count() int      { return 2 }
func (f *fakeDetector) StateCount() int { return 1 }

type fakeInjector struct{ presses, releases int }

func (f *fakeInjector) MoveTo(int, int) error { return nil }
func (f *fakeInjector) Press() error          { f.presses++; return nil }
func (f *fakeInjector) Release() error        { f.releases++; return nil }

type collector struct{ events []events.Event }

func (c *collector) TryPublish(e events.Event) bool {
	c.events = append(c.events, e)
	return true
}

func (c *collector) ofType(t events.EventType) []events.Event {
	var out []events.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type lines struct {
	pending []string
	reads   int
}

func (l *lines) TryNext() (string, bool) {
	l.reads++
	if len(l.pending) == 0 {
		return "", false
	}
	line := l.pending[0]
	l.pending = l.pending[1:]
	return line, true
}

type fakeAuthor struct {
	recording, waiting bool
	frames             int
}

func (f *fakeAuthor) IsRecording() bool                    { return f.recording }
func (f *fakeAuthor) IsWaitingForInput() bool              { return f.waiting }
func (f *fakeAuthor) SetCurrentFrame(*image.RGBA)          { f.frames++ }
func (f *fakeAuthor) CurrentRect() (image.Rectangle, bool) { return image.Rect(1, 1, 5, 5), f.recording }
func (f *fakeAuthor) State() string                        { return "menu" }

func frameCapturer() cv.Capturer {
	return cv.CaptureFunc(func() (*image.RGBA, error) {
		return image.NewRGBA(image.Rect(0, 0, 40, 30)), nil
	})
}

func menuResult() classifier.Result {
	return classifier.Result{
		State: "menu",
		Score: 0.001,
		Matches: []classifier.RoiMatch{{
			Key:      templates.Key{State: "menu", Name: "logo"},
			Center:   image.Pt(20, 15),
			Size:     image.Pt(6, 6),
			Computed: true,
		}},
	}
}

func tapReplayer(t *testing.T, inj *fakeInjector) *gesture.Replayer {
	t.Helper()
	store := gesture.NewStore(t.TempDir())
	require.NoError(t, store.Save("tap", gesture.Sequence{
		{Timestamp: epoch, X: 10, Y: 10, IsMouseDown: true},
		{Timestamp: epoch.Add(50 * time.Millisecond), X: 10, Y: 10, IsMouseDown: false},
	}))
	return gesture.NewReplayer(store, gesture.NewQueue(), inj)
}

type harness struct {
	clock    *fakeClock
	detector *fakeDetector
	events   *collector
	frames   int
}

func newHarness(iterations int, results ...classifier.Result) *harness {
	clock := &fakeClock{t: epoch, limit: iterations}
	return &harness{
		clock:    clock,
		detector: &fakeDetector{clock: clock, results: results},
		events:   &collector{},
	}
}

func (h *harness) run(t *testing.T, cfg Config, deps Deps) *Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.cancel = cancel

	if deps.Capturer == nil {
		deps.Capturer = frameCapturer()
	}
	deps.Detector = h.detector
	deps.Events = h.events
	deps.Sink = overlay.SinkFunc(func(*image.RGBA) { h.frames++ })
	if cfg.Period == 0 {
		cfg.Period = 10 * time.Millisecond
	}

	l := New(cfg, deps, WithClock(h.clock.now, h.clock.sleep))
	require.NoError(t, l.Run(ctx))
	return l
}

func tapPolicy() policy.Policy {
	return policy.Func(func(state string, h policy.Handle) {
		_ = h.QueueReplay("tap")
	})
}

func TestDetectionPausedWhileQueueBusy(t *testing.T) {
	h := newHarness(7, menuResult())
	inj := &fakeInjector{}

	h.run(t, Config{Automation: true}, Deps{Replayer: tapReplayer(t, inj), Policy: tapPolicy()})

	assert.Equal(t, []time.Duration{0, 60 * time.Millisecond}, h.detector.calls)
	assert.Equal(t, 2, inj.presses)
	assert.Equal(t, 1, inj.releases)
	assert.Equal(t, 7, h.frames)
	assert.Len(t, h.clock.sleeps, 7)
	for _, d := range h.clock.sleeps {
		assert.Equal(t, 10*time.Millisecond, d)
	}
}

func TestSettleDelayAfterQueueDrains(t *testing.T) {
	h := newHarness(10, menuResult())
	inj := &fakeInjector{}

	h.run(t, Config{Automation: true, SettleDelay: 30 * time.Millisecond},
		Deps{Replayer: tapReplayer(t, inj), Policy: tapPolicy()})

	assert.Equal(t, []time.Duration{0, 90 * time.Millisecond}, h.detector.calls)
}

func TestAutomationOffSkipsPolicy(t *testing.T) {
	h := newHarness(3, menuResult())
	called := 0
	pol := policy.Func(func(string, policy.Handle) { called++ })

	l := h.run(t, Config{}, Deps{Replayer: tapReplayer(t, &fakeInjector{}), Policy: pol})

	assert.Equal(t, 0, called)
	assert.Len(t, h.detector.calls, 3)
	assert.Equal(t, "menu", l.Result().State)
}

func TestUnknownStateSkipsPolicy(t *testing.T) {
	h := newHarness(2, classifier.Result{Score: 0.4})
	called := 0
	pol := policy.Func(func(string, policy.Handle) { called++ })

	h.run(t, Config{Automation: true}, Deps{Replayer: tapReplayer(t, &fakeInjector{}), Policy: pol})
	assert.Equal(t, 0, called)
}

func TestStateChangedPublishedOnTransitionsOnly(t *testing.T) {
	h := newHarness(4, menuResult(), menuResult(), classifier.Result{Score: 0.5}, classifier.Result{Score: 0.6})

	h.run(t, Config{}, Deps{Replayer: tapReplayer(t, &fakeInjector{})})

	changes := h.events.ofType(events.EventTypeStateChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, "", changes[0].Data["from"])
	assert.Equal(t, "menu", changes[0].Data["to"])
	assert.Equal(t, "menu", changes[1].Data["from"])
	assert.Equal(t, "", changes[1].Data["to"])
}

func TestSleepShortenedByIterationTime(t *testing.T) {
	h := newHarness(3, menuResult())
	costs := []time.Duration{25 * time.Millisecond, 50 * time.Millisecond, 0}
	var starts []time.Duration
	slow := cv.CaptureFunc(func() (*image.RGBA, error) {
		i := len(starts)
		starts = append(starts, h.clock.t.Sub(epoch))
		h.clock.t = h.clock.t.Add(costs[i])
		return image.NewRGBA(image.Rect(0, 0, 40, 30)), nil
	})

	h.run(t, Config{Period: 33 * time.Millisecond}, Deps{
		Capturer: slow,
		Replayer: tapReplayer(t, &fakeInjector{}),
	})

	require.Len(t, h.clock.sleeps, 3)
	assert.Equal(t, 8*time.Millisecond, h.clock.sleeps[0])
	assert.LessOrEqual(t, h.clock.sleeps[1], time.Duration(0), "an overrun iteration gets no sleep")
	assert.Equal(t, 33*time.Millisecond, h.clock.sleeps[2])

	// The overrun is not caught up: the third iteration starts right after
	// the second one ends instead of on the 66ms boundary.
	assert.Equal(t, []time.Duration{0, 33 * time.Millisecond, 83 * time.Millisecond}, starts)
	assert.Equal(t, 3, h.frames)
}

func TestCaptureFailureSkipsIteration(t *testing.T) {
	h := newHarness(3, menuResult())
	failing := cv.CaptureFunc(func() (*image.RGBA, error) {
		return nil, errors.New("window gone")
	})
	src := &lines{pending: []string{"status"}}
	author := &fakeAuthor{}

	h.run(t, Config{}, Deps{
		Capturer:   failing,
		Replayer:   tapReplayer(t, &fakeInjector{}),
		Author:     author,
		Commands:   src,
		Dispatcher: commands.NewDispatcher(commands.Deps{}),
	})

	assert.Empty(t, h.detector.calls)
	assert.Equal(t, 0, h.frames)
	assert.Equal(t, 0, src.reads)
	assert.Equal(t, 0, author.frames)
	assert.Len(t, h.events.ofType(events.EventTypeCaptureFailed), 3)
	assert.Len(t, h.clock.sleeps, 3)
}

func TestQuitEndsLoopAfterIteration(t *testing.T) {
	h := newHarness(100, menuResult())
	src := &lines{pending: []string{"status", "quit", "status"}}

	h.run(t, Config{}, Deps{
		Replayer:   tapReplayer(t, &fakeInjector{}),
		Commands:   src,
		Dispatcher: commands.NewDispatcher(commands.Deps{}),
	})

	assert.Equal(t, 2, h.frames, "the quitting iteration still renders")
	assert.Len(t, h.clock.sleeps, 1)
	assert.Equal(t, []string{"status"}, src.pending)
	assert.Len(t, h.events.ofType(events.EventTypeCommand), 2)
}

func TestAuthoringBlocksDetectionAndCommands(t *testing.T) {
	h := newHarness(3, menuResult())
	src := &lines{pending: []string{"quit"}}
	author := &fakeAuthor{recording: true, waiting: true}

	h.run(t, Config{}, Deps{
		Replayer:   tapReplayer(t, &fakeInjector{}),
		Author:     author,
		Commands:   src,
		Dispatcher: commands.NewDispatcher(commands.Deps{}),
	})

	assert.Empty(t, h.detector.calls)
	assert.Equal(t, 0, src.reads)
	assert.Equal(t, 3, author.frames)
	assert.Equal(t, 3, h.frames)
}

func TestReloadAppliedAtIterationStart(t *testing.T) {
	h := newHarness(2, menuResult())
	h.detector.reload = true

	h.run(t, Config{}, Deps{Replayer: tapReplayer(t, &fakeInjector{})})

	reloads := h.events.ofType(events.EventTypeTemplatesReloaded)
	require.Len(t, reloads, 1)
	assert.Equal(t, 2, reloads[0].Data["templates"])
}

func TestPolicyHandleRoiCenterAndOffsetReplay(t *testing.T) {
	h := newHarness(1, menuResult())
	inj := &fakeInjector{}
	var center image.Point
	var found, missing bool

	pol := policy.Func(func(state string, hd policy.Handle) {
		center, found = hd.RoiCenter("logo")
		_, missing = hd.RoiCenter("nope")
		require.NoError(t, hd.QueueReplayWithOffset("tap", center.X, center.Y))
	})

	h.run(t, Config{Automation: true}, Deps{Replayer: tapReplayer(t, inj), Policy: pol})

	assert.True(t, found)
	assert.False(t, missing)
	assert.Equal(t, image.Pt(20, 15), center)

	queued := h.events.ofType(events.EventTypeGestureQueued)
	require.Len(t, queued, 1)
	assert.Equal(t, "policy", queued[0].Source)
	assert.Equal(t, "tap", queued[0].Data["name"])
	assert.Equal(t, "menu", queued[0].Data["state"])
	assert.Equal(t, 2, queued[0].Data["events"])
	assert.Equal(t, 20, queued[0].Data["x"])

	fired := h.events.ofType(events.EventTypeGestureFired)
	require.Len(t, fired, 1)
	assert.Equal(t, 20, fired[0].Data["x"])
	assert.Equal(t, true, fired[0].Data["down"])
}

func TestCommandReplaysAreAnnounced(t *testing.T) {
	h := newHarness(1, menuResult())
	replayer := tapReplayer(t, &fakeInjector{})
	l := New(Config{}, Deps{Capturer: frameCapturer(), Detector: h.detector, Replayer: replayer, Events: h.events})

	require.NoError(t, l.Replays().QueueReplay("tap"))
	assert.Error(t, l.Replays().QueueReplay("missing"))

	queued := h.events.ofType(events.EventTypeGestureQueued)
	require.Len(t, queued, 1)
	assert.Equal(t, "command", queued[0].Source)
	assert.Equal(t, 2, replayer.Pending())
}

func TestStatus(t *testing.T) {
	h := newHarness(1, menuResult())
	l := h.run(t, Config{Automation: true}, Deps{Replayer: tapReplayer(t, &fakeInjector{})})

	s := l.Status()
	assert.Equal(t, "menu", s.State)
	assert.Equal(t, 2, s.Templates)
	assert.True(t, s.Automation)
	assert.Empty(t, s.Authoring)
}
