//go:build windows

package cv

import (
	"os"
	"syscall"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func findWindow(t *testing.T, title string) uintptr {
	t.Helper()
	procFindWindow := user32.NewProc("FindWindowW")
	titlePtr, err := syscall.UTF16PtrFromString(title)
	require.NoError(t, err)
	hwnd, _, _ := procFindWindow.Call(0, uintptr(unsafe.Pointer(titlePtr)))
	return hwnd
}

// TestWindowCapture needs a visible window; set GARDEN_TEST_WINDOW to its title.
func TestWindowCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping window capture test in short mode")
	}
	title := os.Getenv("GARDEN_TEST_WINDOW")
	if title == "" {
		t.Skip("GARDEN_TEST_WINDOW not set")
	}

	hwnd := findWindow(t, title)
	if hwnd == 0 {
		t.Skipf("window %q not found", title)
	}

	capture, err := NewWindowCapture(hwnd)
	require.NoError(t, err)
	defer capture.Close()

	frame, err := capture.CaptureFrame()
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.Positive(t, frame.Bounds().Dx())
	require.Positive(t, frame.Bounds().Dy())
	require.Equal(t, uint8(255), frame.Pix[3], "alpha is forced opaque")

	again, err := capture.CaptureFrame()
	require.NoError(t, err)
	require.Equal(t, frame.Bounds(), again.Bounds(), "surface is reused at the same size")
}

func BenchmarkWindowCapture(b *testing.B) {
	title := os.Getenv("GARDEN_TEST_WINDOW")
	if title == "" {
		b.Skip("GARDEN_TEST_WINDOW not set")
	}
	titlePtr, _ := syscall.UTF16PtrFromString(title)
	hwnd, _, _ := user32.NewProc("FindWindowW").Call(0, uintptr(unsafe.Pointer(titlePtr)))
	capture, err := NewWindowCapture(hwnd)
	if err != nil {
		b.Skip(err)
	}
	defer capture.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := capture.CaptureFrame(); err != nil {
			b.Fatal(err)
		}
	}
}
