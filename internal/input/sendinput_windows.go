//go:build windows

package input

import (
	"fmt"
	"syscall"
	"unsafe"

	"jordanella.com/garden-go/internal/window"
)

var (
	user32           = syscall.NewLazyDLL("user32.dll")
	procSetCursorPos = user32.NewProc("SetCursorPos")
	procSendInput    = user32.NewProc("SendInput")
)

const (
	inputMouse          = 0
	mouseEventFLeftDown = 0x0002
	mouseEventFLeftUp   = 0x0004
)

// mouseInput mirrors INPUT with the MOUSEINPUT union member on amd64
type mouseInput struct {
	Type      uint32
	_         uint32
	Dx        int32
	Dy        int32
	MouseData uint32
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
}

// SendInput moves the real cursor over the mirrored window
type SendInput struct {
	window *window.Context
}

// NewSendInput creates a desktop pointer injector
func NewSendInput(win *window.Context) (*SendInput, error) {
	return &SendInput{window: win}, nil
}

// MoveTo implements Injector
func (s *SendInput) MoveTo(x, y int) error {
	sx, sy, err := s.window.ToScreen(x, y)
	if err != nil {
		return err
	}
	if ret, _, err := procSetCursorPos.Call(uintptr(sx), uintptr(sy)); ret == 0 {
		return fmt.Errorf("SetCursorPos failed: %v", err)
	}
	return nil
}

// Press implements Injector
func (s *SendInput) Press() error {
	return sendButton(mouseEventFLeftDown)
}

// Release implements Injector
func (s *SendInput) Release() error {
	return sendButton(mouseEventFLeftUp)
}

func sendButton(flags uint32) error {
	in := mouseInput{Type: inputMouse, Flags: flags}
	ret, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if ret != 1 {
		return fmt.Errorf("SendInput failed: %v", err)
	}
	return nil
}
