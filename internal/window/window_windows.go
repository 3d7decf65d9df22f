//go:build windows

package window

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	user32             = syscall.NewLazyDLL("user32.dll")
	procFindWindowW    = user32.NewProc("FindWindowW")
	procClientToScreen = user32.NewProc("ClientToScreen")
)

type point struct {
	X int32
	Y int32
}

// FindWindow returns the handle of the top-level window with the given title
func FindWindow(title string) (uintptr, error) {
	titlePtr, err := syscall.UTF16PtrFromString(title)
	if err != nil {
		return 0, err
	}
	hwnd, _, _ := procFindWindowW.Call(0, uintptr(unsafe.Pointer(titlePtr)))
	if hwnd == 0 {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, title)
	}
	return hwnd, nil
}

func clientOrigin(hwnd uintptr) (int, int, error) {
	var p point
	ret, _, err := procClientToScreen.Call(hwnd, uintptr(unsafe.Pointer(&p)))
	if ret == 0 {
		return 0, 0, fmt.Errorf("ClientToScreen failed: %v", err)
	}
	return int(p.X), int(p.Y), nil
}
