package viewer

import (
	"image"
	"testing"

	"fyne.io/fyne/v2"
	"github.com/stretchr/testify/assert"
)

func TestFitWidth(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 100, 200))
	assert.Same(t, small, fitWidth(small, 0))
	assert.Same(t, small, fitWidth(small, 100))

	scaled := fitWidth(small, 50)
	assert.Equal(t, image.Pt(50, 100), scaled.Bounds().Size())
}

func TestToFrameLetterbox(t *testing.T) {
	frame := image.Pt(100, 200)
	widget := fyne.NewSize(200, 200) // scale 1, 50px bars left and right

	p, ok := toFrame(fyne.NewPos(50, 0), widget, frame)
	assert.True(t, ok)
	assert.Equal(t, image.Pt(0, 0), p)

	p, ok = toFrame(fyne.NewPos(100, 150), widget, frame)
	assert.True(t, ok)
	assert.Equal(t, image.Pt(50, 150), p)

	p, ok = toFrame(fyne.NewPos(10, 10), widget, frame)
	assert.False(t, ok)
	assert.Equal(t, image.Pt(0, 10), p)
}

func TestToFrameScaled(t *testing.T) {
	p, ok := toFrame(fyne.NewPos(50, 100), fyne.NewSize(100, 200), image.Pt(200, 400))
	assert.True(t, ok)
	assert.Equal(t, image.Pt(100, 200), p)

	_, ok = toFrame(fyne.NewPos(1, 1), fyne.NewSize(100, 100), image.Point{})
	assert.False(t, ok)
}
