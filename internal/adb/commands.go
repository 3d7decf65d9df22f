package adb

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"jordanella.com/garden-go/internal/cv"
)

// MotionAction is an `input motionevent` action
type MotionAction string

const (
	MotionDown MotionAction = "DOWN"
	MotionMove MotionAction = "MOVE"
	MotionUp   MotionAction = "UP"
)

// Shell executes a shell command and returns output
func (c *Controller) Shell(command string) (string, error) {
	output, err := c.Exec("shell", command)
	if err != nil {
		return "", fmt.Errorf("shell command failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ScreenSize returns the display size, preferring an override when present
func (c *Controller) ScreenSize() (width, height int, err error) {
	output, err := c.Shell("wm size")
	if err != nil {
		return 0, 0, err
	}
	return parseWMSize(output)
}

// parseWMSize reads "Physical size: 1080x1920" with an optional
// "Override size: WxH" line taking precedence.
func parseWMSize(output string) (int, int, error) {
	var w, h int
	found := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var lw, lh int
		if _, err := fmt.Sscanf(line, "Override size: %dx%d", &lw, &lh); err == nil {
			return lw, lh, nil
		}
		if _, err := fmt.Sscanf(line, "Physical size: %dx%d", &lw, &lh); err == nil {
			w, h, found = lw, lh, true
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("failed to parse window size: %s", output)
	}
	return w, h, nil
}

// Screencap grabs the device framebuffer as PNG and decodes it
func (c *Controller) Screencap() (*image.RGBA, error) {
	output, err := c.Exec("exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cv.ErrCapture, err)
	}
	img, err := png.Decode(bytes.NewReader(output))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode screencap: %v", cv.ErrCapture, err)
	}
	return cv.ToRGBA(img), nil
}

// ScreenCapturer adapts a Controller to cv.Capturer
type ScreenCapturer struct {
	ctrl *Controller
}

// NewScreenCapturer creates a capturer backed by adb screencap
func NewScreenCapturer(ctrl *Controller) *ScreenCapturer {
	return &ScreenCapturer{ctrl: ctrl}
}

// CaptureFrame implements cv.Capturer
func (s *ScreenCapturer) CaptureFrame() (*image.RGBA, error) {
	return s.ctrl.Screencap()
}
