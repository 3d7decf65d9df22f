//go:build !windows

package cv

import (
	"fmt"
	"image"
	"runtime"
)

// WindowCapture is only available on Windows
type WindowCapture struct{}

// NewWindowCapture always fails off Windows; use the adb capture method instead
func NewWindowCapture(hwnd uintptr) (*WindowCapture, error) {
	return nil, fmt.Errorf("window capture is not supported on %s", runtime.GOOS)
}

// CaptureFrame always fails off Windows
func (wc *WindowCapture) CaptureFrame() (*image.RGBA, error) {
	return nil, fmt.Errorf("%w: window capture is not supported on %s", ErrCapture, runtime.GOOS)
}

// Close is a no-op off Windows
func (wc *WindowCapture) Close() error { return nil }
