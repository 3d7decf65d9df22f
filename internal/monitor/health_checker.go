package monitor

import (
	"fmt"
	"sync"
	"time"

	"jordanella.com/garden-go/internal/events"
	"jordanella.com/garden-go/internal/logging"
)

// Reasons passed to the unhealthy callback
const (
	ReasonCaptureFailing = "capture_failing"
	ReasonDeviceLost     = "adb_connection_lost"
	ReasonStuck          = "state_stuck"
)

// Device is the part of the adb controller the checker probes
type Device interface {
	Shell(command string) (string, error)
	Connect() error
}

// UnhealthyCallback is called when the loop looks unhealthy
type UnhealthyCallback func(reason string, err error)

// HealthChecker watches loop events for repeated capture failures and for
// gestures that never move the screen off its state, and probes the device
// connection when there is one.
type HealthChecker struct {
	bus    events.EventBus
	device Device
	log    *logging.Logger
	now    func() time.Time

	checkInterval    time.Duration
	failureThreshold int
	stuckTimeout     time.Duration
	stuckThreshold   int
	onUnhealthy      UnhealthyCallback

	mu              sync.Mutex
	lastChange      time.Time
	queuedSinceMove int
	stuckCount      int
	captureFailures int
	subs            []events.SubscriptionID
	stop            chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

// Option configures a HealthChecker
type Option func(*HealthChecker)

// WithCheckInterval sets how often the checks run
func WithCheckInterval(d time.Duration) Option {
	return func(hc *HealthChecker) { hc.checkInterval = d }
}

// WithFailureThreshold sets how many capture failures per interval are
// tolerated
func WithFailureThreshold(n int) Option {
	return func(hc *HealthChecker) { hc.failureThreshold = n }
}

// WithStuckTimeout sets how long gestures may fire without a state change
func WithStuckTimeout(d time.Duration) Option {
	return func(hc *HealthChecker) { hc.stuckTimeout = d }
}

// WithUnhealthyCallback sets the callback for unhealthy events
func WithUnhealthyCallback(cb UnhealthyCallback) Option {
	return func(hc *HealthChecker) { hc.onUnhealthy = cb }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(hc *HealthChecker) { hc.now = now }
}

// NewHealthChecker creates a checker. device may be nil when capture and
// input don't go through adb.
func NewHealthChecker(bus events.EventBus, device Device, opts ...Option) *HealthChecker {
	hc := &HealthChecker{
		bus:              bus,
		device:           device,
		log:              logging.NewLogger("Health"),
		now:              time.Now,
		checkInterval:    10 * time.Second,
		failureThreshold: 5,
		stuckTimeout:     30 * time.Second,
		stuckThreshold:   3,
		stop:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(hc)
	}
	hc.lastChange = hc.now()
	return hc
}

// Start subscribes to the bus and begins periodic checks
func (hc *HealthChecker) Start() {
	hc.subs = append(hc.subs,
		hc.bus.Subscribe(events.EventTypeStateChanged, hc.onStateChanged),
		hc.bus.Subscribe(events.EventTypeGestureQueued, hc.onGestureQueued),
		hc.bus.Subscribe(events.EventTypeCaptureFailed, hc.onCaptureFailed),
	)

	hc.wg.Add(1)
	go hc.monitor()
}

// Stop ends the checks and unsubscribes. Safe to call more than once.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() {
		close(hc.stop)
		hc.wg.Wait()
		for _, id := range hc.subs {
			hc.bus.Unsubscribe(id)
		}
		hc.subs = nil
	})
}

func (hc *HealthChecker) onStateChanged(events.Event) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastChange = hc.now()
	hc.queuedSinceMove = 0
	hc.stuckCount = 0
}

func (hc *HealthChecker) onGestureQueued(events.Event) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.queuedSinceMove++
}

func (hc *HealthChecker) onCaptureFailed(events.Event) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.captureFailures++
}

func (hc *HealthChecker) monitor() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stop:
			return
		case <-ticker.C:
			hc.performHealthChecks()
		}
	}
}

// performHealthChecks runs all checks once
func (hc *HealthChecker) performHealthChecks() {
	hc.checkCapture()
	hc.checkIfStuck()
	if err := hc.CheckDevice(); err != nil {
		hc.unhealthy(ReasonDeviceLost, err)
		hc.reconnect()
	}
}

// checkCapture compares failures since the previous check to the threshold
func (hc *HealthChecker) checkCapture() {
	hc.mu.Lock()
	failures := hc.captureFailures
	hc.captureFailures = 0
	hc.mu.Unlock()

	if failures < hc.failureThreshold {
		return
	}
	hc.unhealthy(ReasonCaptureFailing, fmt.Errorf("%d capture failures in %v", failures, hc.checkInterval))
	hc.reconnect()
}

func (hc *HealthChecker) checkIfStuck() {
	hc.mu.Lock()
	since := hc.now().Sub(hc.lastChange)
	if since <= hc.stuckTimeout || hc.queuedSinceMove == 0 {
		hc.stuckCount = 0
		hc.mu.Unlock()
		return
	}
	hc.stuckCount++
	fire := hc.stuckCount >= hc.stuckThreshold
	queued := hc.queuedSinceMove
	if fire {
		hc.stuckCount = 0
	}
	hc.mu.Unlock()

	if fire {
		hc.unhealthy(ReasonStuck, fmt.Errorf("%d gestures queued without a state change for %v", queued, since.Round(time.Second)))
	}
}

// CheckDevice verifies the adb connection answers a shell command
func (hc *HealthChecker) CheckDevice() error {
	if hc.device == nil {
		return nil
	}
	if _, err := hc.device.Shell("echo ok"); err != nil {
		return fmt.Errorf("ADB connection check failed: %w", err)
	}
	return nil
}

func (hc *HealthChecker) reconnect() {
	if hc.device == nil {
		return
	}
	if err := hc.device.Connect(); err != nil {
		hc.log.Error("Reconnect failed", err)
		return
	}
	hc.log.Info("Reconnected to device")
}

func (hc *HealthChecker) unhealthy(reason string, err error) {
	hc.log.WarnWithContext("Unhealthy", map[string]interface{}{"reason": reason, "error": err.Error()})
	if hc.onUnhealthy != nil {
		hc.onUnhealthy(reason, err)
	}
}
