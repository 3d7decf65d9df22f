package viewer

import (
	"image"
	"sync"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"github.com/nfnt/resize"
)

// PointerHandler receives mouse input in frame pixel coordinates
type PointerHandler interface {
	PointerDown(p image.Point)
	PointerMove(p image.Point)
	PointerUp(p image.Point) error
}

// Window shows the rendered frames in a fyne window
type Window struct {
	win      fyne.Window
	surface  *surface
	maxWidth uint
	closed   atomic.Bool
	onClosed func()
}

// New creates the viewer window. Frames wider than maxWidth pixels are
// downscaled before display; zero disables scaling.
func New(a fyne.App, title string, maxWidth int) *Window {
	w := &Window{
		win:     a.NewWindow(title),
		surface: newSurface(),
	}
	if maxWidth > 0 {
		w.maxWidth = uint(maxWidth)
	}
	w.win.SetContent(w.surface)
	w.win.Resize(fyne.NewSize(540, 960))
	w.win.SetOnClosed(func() {
		w.closed.Store(true)
		if w.onClosed != nil {
			w.onClosed()
		}
	})
	return w
}

// SetPointerHandler routes mouse drags on the frame to h
func (w *Window) SetPointerHandler(h PointerHandler) {
	w.surface.setHandler(h)
}

// OnClosed runs fn when the user closes the window. Call before Show.
func (w *Window) OnClosed(fn func()) {
	w.onClosed = fn
}

// Closed reports whether the window has been closed; frames presented
// afterwards are dropped
func (w *Window) Closed() bool {
	return w.closed.Load()
}

// Show displays the window
func (w *Window) Show() {
	w.win.Show()
}

// ShowAndRun displays the window and runs the app event loop
func (w *Window) ShowAndRun() {
	w.win.ShowAndRun()
}

// Present implements overlay.Sink. It may be called from any goroutine.
func (w *Window) Present(frame *image.RGBA) {
	if frame == nil || w.closed.Load() {
		return
	}
	size := frame.Bounds().Size()
	display := fitWidth(frame, w.maxWidth)

	w.surface.setFrameSize(size)
	fyne.Do(func() {
		w.surface.img.Image = display
		w.surface.img.Refresh()
	})
}

// fitWidth downscales img to maxWidth keeping the aspect ratio
func fitWidth(img *image.RGBA, maxWidth uint) image.Image {
	if maxWidth == 0 || uint(img.Bounds().Dx()) <= maxWidth {
		return img
	}
	return resize.Resize(maxWidth, 0, img, resize.Bilinear)
}

// toFrame maps a position inside a widget of the given size to a pixel of a
// frame drawn with ImageFillContain
func toFrame(pos fyne.Position, widget fyne.Size, frame image.Point) (image.Point, bool) {
	if frame.X <= 0 || frame.Y <= 0 || widget.Width <= 0 || widget.Height <= 0 {
		return image.Point{}, false
	}

	scale := widget.Width / float32(frame.X)
	if s := widget.Height / float32(frame.Y); s < scale {
		scale = s
	}
	offX := (widget.Width - float32(frame.X)*scale) / 2
	offY := (widget.Height - float32(frame.Y)*scale) / 2

	x := int((pos.X - offX) / scale)
	y := int((pos.Y - offY) / scale)
	p := image.Pt(clamp(x, 0, frame.X-1), clamp(y, 0, frame.Y-1))
	return p, p.X == x && p.Y == y
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// surface is the frame image plus mouse handling
type surface struct {
	widget.BaseWidget
	img *canvas.Image

	mu        sync.Mutex
	frameSize image.Point
	handler   PointerHandler
	dragging  bool
	last      image.Point
}

var (
	_ desktop.Mouseable = (*surface)(nil)
	_ fyne.Draggable    = (*surface)(nil)
)

func newSurface() *surface {
	s := &surface{img: canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))}
	s.img.FillMode = canvas.ImageFillContain
	s.img.ScaleMode = canvas.ImageScaleFastest
	s.ExtendBaseWidget(s)
	return s
}

func (s *surface) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(s.img)
}

func (s *surface) setFrameSize(p image.Point) {
	s.mu.Lock()
	s.frameSize = p
	s.mu.Unlock()
}

func (s *surface) setHandler(h PointerHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *surface) locate(pos fyne.Position) (PointerHandler, image.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, inside := toFrame(pos, s.Size(), s.frameSize)
	return s.handler, p, inside && s.handler != nil
}

func (s *surface) MouseDown(ev *desktop.MouseEvent) {
	if ev.Button != desktop.MouseButtonPrimary {
		return
	}
	h, p, ok := s.locate(ev.Position)
	if !ok {
		return
	}
	s.mu.Lock()
	s.dragging = true
	s.last = p
	s.mu.Unlock()
	h.PointerDown(p)
}

func (s *surface) MouseUp(ev *desktop.MouseEvent) {
	s.finish(ev.Position)
}

func (s *surface) Dragged(ev *fyne.DragEvent) {
	s.mu.Lock()
	dragging := s.dragging
	s.mu.Unlock()
	if !dragging {
		return
	}
	h, p, _ := s.locate(ev.Position)
	if h == nil {
		return
	}
	s.mu.Lock()
	s.last = p
	s.mu.Unlock()
	h.PointerMove(p)
}

func (s *surface) DragEnd() {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	s.release(last)
}

func (s *surface) finish(pos fyne.Position) {
	h, p, _ := s.locate(pos)
	if h == nil {
		return
	}
	s.release(p)
}

func (s *surface) release(p image.Point) {
	s.mu.Lock()
	if !s.dragging || s.handler == nil {
		s.mu.Unlock()
		return
	}
	s.dragging = false
	h := s.handler
	s.mu.Unlock()

	_ = h.PointerUp(p)
}
