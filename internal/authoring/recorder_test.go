package authoring

import (
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/garden-go/pkg/templates"
)

type savedRoi struct {
	state, name string
	box         image.Rectangle
	size        image.Point
}

type fakeSink struct {
	mu    sync.Mutex
	saved []savedRoi
}

func (f *fakeSink) AddRoi(state, name string, box image.Rectangle, crop image.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, savedRoi{state, name, box, crop.Bounds().Size()})
	return nil
}

func (f *fakeSink) all() []savedRoi {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedRoi(nil), f.saved...)
}

func frame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 3), uint8(y * 5), 90, 255})
		}
	}
	return img
}

func TestSetRectRequiresRecording(t *testing.T) {
	r := NewRecorder(&fakeSink{}, make(chan string))
	defer r.Close()

	r.SetCurrentFrame(frame(20, 20))
	assert.ErrorIs(t, r.SetRect(image.Rect(0, 0, 5, 5)), ErrNotRecording)
	assert.False(t, r.IsWaitingForInput())
}

func TestSetRectNeedsFrame(t *testing.T) {
	r := NewRecorder(&fakeSink{}, make(chan string))
	defer r.Close()

	require.NoError(t, r.Begin("menu"))
	assert.ErrorIs(t, r.SetRect(image.Rect(0, 0, 5, 5)), ErrNoFrame)
}

func TestNamedRoiIsSaved(t *testing.T) {
	sink := &fakeSink{}
	lines := make(chan string, 1)
	r := NewRecorder(sink, lines)
	defer r.Close()

	done := make(chan struct{})
	r.OnSaved(func(string, string) { close(done) })

	require.NoError(t, r.Begin("menu"))
	r.SetCurrentFrame(frame(40, 30))
	require.NoError(t, r.SetRect(image.Rect(12, 8, 2, 3)))
	assert.True(t, r.IsWaitingForInput())
	assert.ErrorIs(t, r.SetRect(image.Rect(0, 0, 4, 4)), ErrBusy)

	lines <- "  logo  "
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("roi was not saved")
	}

	assert.Eventually(t, func() bool { return !r.IsWaitingForInput() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []savedRoi{{
		state: "menu",
		name:  "logo",
		box:   image.Rect(2, 3, 12, 8),
		size:  image.Pt(10, 5),
	}}, sink.all())
	assert.True(t, r.IsRecording(), "recording continues for the next rectangle")
}

func TestEmptyNameDiscardsRoi(t *testing.T) {
	sink := &fakeSink{}
	lines := make(chan string, 1)
	r := NewRecorder(sink, lines)

	require.NoError(t, r.Begin("menu"))
	r.SetCurrentFrame(frame(20, 20))
	require.NoError(t, r.SetRect(image.Rect(0, 0, 5, 5)))
	lines <- "   "

	assert.Eventually(t, func() bool { return !r.IsWaitingForInput() }, time.Second, 5*time.Millisecond)
	r.Close()
	assert.Empty(t, sink.all())
}

func TestRectOutsideFrameIsRejected(t *testing.T) {
	r := NewRecorder(&fakeSink{}, make(chan string))
	defer r.Close()

	require.NoError(t, r.Begin("menu"))
	r.SetCurrentFrame(frame(20, 20))
	assert.Error(t, r.SetRect(image.Rect(15, 15, 25, 25)))
	assert.False(t, r.IsWaitingForInput())
}

func TestPointerDragProducesRect(t *testing.T) {
	r := NewRecorder(&fakeSink{}, make(chan string))
	defer r.Close()

	r.PointerDown(image.Pt(1, 1))
	_, ok := r.CurrentRect()
	assert.False(t, ok, "ignored while not recording")

	require.NoError(t, r.Begin("menu"))
	r.SetCurrentFrame(frame(30, 30))
	r.PointerDown(image.Pt(10, 10))
	r.PointerMove(image.Pt(4, 20))

	rect, ok := r.CurrentRect()
	require.True(t, ok)
	assert.Equal(t, image.Rect(4, 10, 10, 20), rect)

	require.NoError(t, r.PointerUp(image.Pt(4, 20)))
	assert.True(t, r.IsWaitingForInput())
	_, ok = r.CurrentRect()
	assert.False(t, ok)
}

func TestBeginValidatesState(t *testing.T) {
	r := NewRecorder(&fakeSink{}, make(chan string))
	defer r.Close()

	assert.Error(t, r.Begin(" "))
	assert.Error(t, r.Begin("a/b"))
	require.NoError(t, r.Begin("menu"))
	assert.Error(t, r.Begin("shop"))
	assert.Equal(t, "menu", r.State())

	r.Cancel()
	assert.False(t, r.IsRecording())
	assert.Empty(t, r.State())
}

func TestRecorderWritesThroughTemplateStore(t *testing.T) {
	store := templates.NewStore(t.TempDir())
	lines := make(chan string, 1)
	r := NewRecorder(store, lines)

	require.NoError(t, r.Begin("menu"))
	r.SetCurrentFrame(frame(30, 20))
	require.NoError(t, r.SetRect(image.Rect(5, 5, 15, 12)))
	lines <- "logo"

	assert.Eventually(t, func() bool { return !r.IsWaitingForInput() }, time.Second, 5*time.Millisecond)
	r.Close()

	meta, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []templates.RoiDefinition{{Name: "logo", X: 5, Y: 5, Width: 10, Height: 7}}, meta.States["menu"])
	assert.FileExists(t, store.ImagePath("menu", "logo"))
}
