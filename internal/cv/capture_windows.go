//go:build windows

package cv

import (
	"fmt"
	"image"
	"sync"
	"syscall"
	"unsafe"
)

var (
	user32 = syscall.NewLazyDLL("user32.dll")
	gdi32  = syscall.NewLazyDLL("gdi32.dll")

	procGetDC                  = user32.NewProc("GetDC")
	procReleaseDC              = user32.NewProc("ReleaseDC")
	procGetClientRect          = user32.NewProc("GetClientRect")
	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
)

const (
	srcCopy      = 0x00CC0020
	biRGB        = 0
	dibRGBColors = 0
)

type rect struct {
	Left, Top, Right, Bottom int32
}

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

type bitmapInfo struct {
	Header bitmapInfoHeader
	Colors [1]uint32
}

// WindowCapture grabs the client area of the mirrored window. The memory DC
// and bitmap are kept between frames and rebuilt when the window is resized.
type WindowCapture struct {
	hwnd uintptr

	mu     sync.Mutex
	memDC  uintptr
	bitmap uintptr
	size   image.Point
}

// NewWindowCapture checks that hwnd has a usable client area
func NewWindowCapture(hwnd uintptr) (*WindowCapture, error) {
	if hwnd == 0 {
		return nil, fmt.Errorf("invalid window handle")
	}
	wc := &WindowCapture{hwnd: hwnd}
	if _, err := wc.clientSize(); err != nil {
		return nil, err
	}
	return wc, nil
}

func (wc *WindowCapture) clientSize() (image.Point, error) {
	var r rect
	ret, _, err := procGetClientRect.Call(wc.hwnd, uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return image.Point{}, fmt.Errorf("failed to get client rect: %v", err)
	}
	size := image.Pt(int(r.Right-r.Left), int(r.Bottom-r.Top))
	if size.X <= 0 || size.Y <= 0 {
		return image.Point{}, fmt.Errorf("invalid window dimensions: %dx%d", size.X, size.Y)
	}
	return size, nil
}

// ensureSurface (re)creates the memory DC and bitmap for size
func (wc *WindowCapture) ensureSurface(windowDC uintptr, size image.Point) error {
	if wc.memDC != 0 && wc.size == size {
		return nil
	}
	wc.release()

	memDC, _, err := procCreateCompatibleDC.Call(windowDC)
	if memDC == 0 {
		return fmt.Errorf("failed to create compatible DC: %v", err)
	}
	bitmap, _, err := procCreateCompatibleBitmap.Call(windowDC, uintptr(size.X), uintptr(size.Y))
	if bitmap == 0 {
		procDeleteDC.Call(memDC)
		return fmt.Errorf("failed to create compatible bitmap: %v", err)
	}
	procSelectObject.Call(memDC, bitmap)

	wc.memDC, wc.bitmap, wc.size = memDC, bitmap, size
	return nil
}

func (wc *WindowCapture) release() {
	if wc.bitmap != 0 {
		procDeleteObject.Call(wc.bitmap)
		wc.bitmap = 0
	}
	if wc.memDC != 0 {
		procDeleteDC.Call(wc.memDC)
		wc.memDC = 0
	}
}

// CaptureFrame copies the client area into a new RGBA image
func (wc *WindowCapture) CaptureFrame() (*image.RGBA, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	size, err := wc.clientSize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	windowDC, _, callErr := procGetDC.Call(wc.hwnd)
	if windowDC == 0 {
		return nil, fmt.Errorf("%w: failed to get window DC: %v", ErrCapture, callErr)
	}
	defer procReleaseDC.Call(wc.hwnd, windowDC)

	if err := wc.ensureSurface(windowDC, size); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	ret, _, callErr := procBitBlt.Call(wc.memDC, 0, 0, uintptr(size.X), uintptr(size.Y), windowDC, 0, 0, srcCopy)
	if ret == 0 {
		return nil, fmt.Errorf("%w: BitBlt failed: %v", ErrCapture, callErr)
	}

	bi := bitmapInfo{Header: bitmapInfoHeader{
		Width:       int32(size.X),
		Height:      -int32(size.Y), // top-down rows
		Planes:      1,
		BitCount:    32,
		Compression: biRGB,
	}}
	bi.Header.Size = uint32(unsafe.Sizeof(bi.Header))

	img := image.NewRGBA(image.Rectangle{Max: size})
	ret, _, callErr = procGetDIBits.Call(
		wc.memDC, wc.bitmap,
		0, uintptr(size.Y),
		uintptr(unsafe.Pointer(&img.Pix[0])),
		uintptr(unsafe.Pointer(&bi)),
		dibRGBColors,
	)
	if ret == 0 {
		return nil, fmt.Errorf("%w: GetDIBits failed: %v", ErrCapture, callErr)
	}

	// GDI hands back BGRA with undefined alpha
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		img.Pix[i+3] = 255
	}
	return img, nil
}

// Close frees the cached GDI objects
func (wc *WindowCapture) Close() error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.release()
	return nil
}
