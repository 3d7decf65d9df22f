package input

import (
	"errors"
	"sync"

	"jordanella.com/garden-go/internal/adb"
	"jordanella.com/garden-go/internal/window"
)

// ErrUnsupported is returned by injectors that cannot run on this platform
var ErrUnsupported = errors.New("pointer injection not supported on this platform")

// Injector drives the pointer in window-relative coordinates
type Injector interface {
	MoveTo(x, y int) error
	Press() error
	Release() error
}

// MotionSender is the part of the adb shell session the injector needs
type MotionSender interface {
	MotionEvent(action adb.MotionAction, x, y int) error
}

// ADBInjector turns pointer calls into `input motionevent` commands.
// Moves while released only update the position; the device has no hover.
type ADBInjector struct {
	sender  MotionSender
	window  *window.Context
	mu      sync.Mutex
	x, y    int
	pressed bool
}

// NewADBInjector creates an injector that converts coordinates through win
func NewADBInjector(sender MotionSender, win *window.Context) *ADBInjector {
	return &ADBInjector{sender: sender, window: win}
}

// MoveTo implements Injector
func (a *ADBInjector) MoveTo(x, y int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.x, a.y = x, y
	if !a.pressed {
		return nil
	}
	dx, dy := a.window.ToDevice(x, y)
	return a.sender.MotionEvent(adb.MotionMove, dx, dy)
}

// Press implements Injector
func (a *ADBInjector) Press() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dx, dy := a.window.ToDevice(a.x, a.y)
	if err := a.sender.MotionEvent(adb.MotionDown, dx, dy); err != nil {
		return err
	}
	a.pressed = true
	return nil
}

// Release implements Injector
func (a *ADBInjector) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dx, dy := a.window.ToDevice(a.x, a.y)
	a.pressed = false
	return a.sender.MotionEvent(adb.MotionUp, dx, dy)
}

// Noop discards every pointer call, used when automation runs dry
type Noop struct{}

func (Noop) MoveTo(x, y int) error { return nil }
func (Noop) Press() error          { return nil }
func (Noop) Release() error        { return nil }
