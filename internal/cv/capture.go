package cv

import (
	"errors"
	"fmt"
	"image"
)

// ErrCapture wraps every frame acquisition failure
var ErrCapture = errors.New("frame capture failed")

// Capturer interface for different capture methods
type Capturer interface {
	CaptureFrame() (*image.RGBA, error)
}

// CaptureMethod defines how frames are captured
type CaptureMethod string

const (
	// CaptureMethodWindow captures the mirrored window's client area (Windows only)
	CaptureMethodWindow CaptureMethod = "window"
	// CaptureMethodADB captures via `adb exec-out screencap -p`
	CaptureMethodADB CaptureMethod = "adb"
)

// ParseCaptureMethod validates a config value
func ParseCaptureMethod(s string) (CaptureMethod, error) {
	switch CaptureMethod(s) {
	case CaptureMethodWindow, CaptureMethodADB:
		return CaptureMethod(s), nil
	default:
		return "", fmt.Errorf("unknown capture method %q", s)
	}
}

// CaptureFunc adapts a function to the Capturer interface
type CaptureFunc func() (*image.RGBA, error)

// CaptureFrame calls f
func (f CaptureFunc) CaptureFrame() (*image.RGBA, error) {
	return f()
}
