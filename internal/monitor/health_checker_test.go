package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/garden-go/internal/events"
)

type fakeDevice struct {
	shellErr   error
	shells     int
	reconnects int
}

func (d *fakeDevice) Shell(string) (string, error) {
	d.shells++
	return "ok", d.shellErr
}

func (d *fakeDevice) Connect() error {
	d.reconnects++
	return nil
}

type reasons struct {
	mu  sync.Mutex
	got []string
}

func (r *reasons) record(reason string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, reason)
}

func (r *reasons) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newChecker(t *testing.T, device Device, now *time.Time) (*HealthChecker, *reasons) {
	t.Helper()
	r := &reasons{}
	hc := NewHealthChecker(events.NewEventBus(8), device,
		WithFailureThreshold(3),
		WithStuckTimeout(time.Minute),
		WithUnhealthyCallback(r.record),
		WithClock(func() time.Time { return *now }),
	)
	return hc, r
}

func TestCaptureFailuresTriggerReconnect(t *testing.T) {
	now := time.Unix(0, 0)
	dev := &fakeDevice{}
	hc, r := newChecker(t, dev, &now)

	for i := 0; i < 2; i++ {
		hc.onCaptureFailed(events.NewCaptureFailedEvent(errors.New("boom")))
	}
	hc.checkCapture()
	assert.Empty(t, r.list(), "below threshold")

	for i := 0; i < 3; i++ {
		hc.onCaptureFailed(events.NewCaptureFailedEvent(errors.New("boom")))
	}
	hc.checkCapture()
	assert.Equal(t, []string{ReasonCaptureFailing}, r.list())
	assert.Equal(t, 1, dev.reconnects)

	hc.checkCapture()
	assert.Len(t, r.list(), 1, "counter resets every check")
}

func TestStuckNeedsQueuedGestures(t *testing.T) {
	now := time.Unix(0, 0)
	hc, r := newChecker(t, nil, &now)

	now = now.Add(2 * time.Minute)
	for i := 0; i < 5; i++ {
		hc.checkIfStuck()
	}
	assert.Empty(t, r.list(), "idle screen is not stuck")

	hc.onGestureQueued(events.NewGestureQueuedEvent("policy", "tap", "home", 2, nil))
	hc.checkIfStuck()
	hc.checkIfStuck()
	assert.Empty(t, r.list())
	hc.checkIfStuck()
	assert.Equal(t, []string{ReasonStuck}, r.list())

	hc.onStateChanged(events.NewStateChangedEvent("home", "menu", 0.001))
	now = now.Add(30 * time.Second)
	for i := 0; i < 5; i++ {
		hc.checkIfStuck()
	}
	assert.Len(t, r.list(), 1, "state change resets")
}

func TestDeviceProbe(t *testing.T) {
	now := time.Unix(0, 0)
	dev := &fakeDevice{}
	hc, r := newChecker(t, dev, &now)

	hc.performHealthChecks()
	assert.Empty(t, r.list())
	assert.Equal(t, 1, dev.shells)

	dev.shellErr = errors.New("device offline")
	hc.performHealthChecks()
	assert.Equal(t, []string{ReasonDeviceLost}, r.list())
	assert.Equal(t, 1, dev.reconnects)
}

func TestNoDeviceSkipsProbe(t *testing.T) {
	now := time.Unix(0, 0)
	hc, r := newChecker(t, nil, &now)
	require.NoError(t, hc.CheckDevice())
	hc.performHealthChecks()
	assert.Empty(t, r.list())
}

func TestStartStopThroughBus(t *testing.T) {
	bus := events.NewEventBus(8)
	hc := NewHealthChecker(bus, nil, WithCheckInterval(time.Hour))
	hc.Start()
	assert.Equal(t, 1, bus.SubscriberCount(events.EventTypeCaptureFailed))

	bus.Publish(events.NewCaptureFailedEvent(errors.New("boom")))
	require.Eventually(t, func() bool {
		hc.mu.Lock()
		defer hc.mu.Unlock()
		return hc.captureFailures == 1
	}, time.Second, 5*time.Millisecond)

	hc.Stop()
	hc.Stop()
	assert.Equal(t, 0, bus.SubscriberCount(events.EventTypeCaptureFailed))
	bus.Stop()
}
