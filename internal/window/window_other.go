//go:build !windows

package window

// FindWindow is only implemented on Windows
func FindWindow(title string) (uintptr, error) {
	return 0, ErrUnsupported
}

func clientOrigin(hwnd uintptr) (int, int, error) {
	return 0, 0, ErrUnsupported
}
