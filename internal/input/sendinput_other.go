//go:build !windows

package input

import (
	"jordanella.com/garden-go/internal/window"
)

// SendInput is only available on Windows
type SendInput struct{}

// NewSendInput always fails off Windows; use the adb injector instead
func NewSendInput(win *window.Context) (*SendInput, error) {
	return nil, ErrUnsupported
}

func (s *SendInput) MoveTo(x, y int) error { return ErrUnsupported }
func (s *SendInput) Press() error          { return ErrUnsupported }
func (s *SendInput) Release() error        { return ErrUnsupported }
