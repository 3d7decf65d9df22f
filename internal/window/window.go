package window

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotFound is returned when no window carries the requested title
var ErrNotFound = errors.New("window not found")

// ErrUnsupported is returned by window operations on platforms without them
var ErrUnsupported = errors.New("window operations not supported on this platform")

// Context identifies the mirrored window and how to convert its coordinates.
// It is passed explicitly to whatever needs coordinate conversion.
type Context struct {
	Title      string
	Handle     uintptr
	Scale      float64 // Already-converted DPI factor, window pixels -> screen pixels
	Translator *Translator
}

// NewContext builds a context for a window that has not been located yet
func NewContext(title string, scale float64, translator *Translator) *Context {
	if scale <= 0 {
		scale = 1
	}
	if translator == nil {
		translator = IdentityTranslator()
	}
	return &Context{Title: title, Scale: scale, Translator: translator}
}

// Locate resolves Handle from Title
func (c *Context) Locate() error {
	hwnd, err := FindWindow(c.Title)
	if err != nil {
		return err
	}
	c.Handle = hwnd
	return nil
}

// ToDevice converts window-relative coordinates into device coordinates
func (c *Context) ToDevice(x, y int) (int, int) {
	return c.Translator.TranslatePoint(x, y)
}

// ToScreen converts window-relative coordinates into absolute screen
// coordinates using the window's client origin.
func (c *Context) ToScreen(x, y int) (int, int, error) {
	if c.Handle == 0 {
		return 0, 0, fmt.Errorf("%w: %q has no handle", ErrNotFound, c.Title)
	}
	ox, oy, err := clientOrigin(c.Handle)
	if err != nil {
		return 0, 0, err
	}
	return ox + int(math.Round(float64(x)*c.Scale)), oy + int(math.Round(float64(y)*c.Scale)), nil
}
