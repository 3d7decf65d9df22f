package overlay

import (
	"fmt"
	"image"

	"jordanella.com/garden-go/internal/classifier"
	"jordanella.com/garden-go/internal/cv"
)

// View is everything drawn on top of one frame
type View struct {
	Cursor    *image.Point     // Interpolated replay position, nil when idle
	Rect      *image.Rectangle // Rectangle being authored
	Result    classifier.Result
	Authoring bool
}

// Sink receives finished frames. The sink owns the image after Present.
type Sink interface {
	Present(frame *image.RGBA)
}

// Discard drops every frame
type Discard struct{}

// Present implements Sink
func (Discard) Present(*image.RGBA) {}

// SinkFunc adapts a function to Sink
type SinkFunc func(*image.RGBA)

// Present calls f
func (f SinkFunc) Present(frame *image.RGBA) {
	f(frame)
}

// Render draws v on a copy of frame; frame itself is left untouched
func Render(frame *image.RGBA, v View) *image.RGBA {
	out := cv.Clone(frame)

	if v.Cursor != nil {
		cv.DrawCircle(out, *v.Cursor, 10, cv.ColorRed, 2)
	}
	if v.Rect != nil {
		cv.DrawRect(out, *v.Rect, cv.ColorGreen, 2)
	}
	if !v.Authoring {
		drawMatches(out, v.Result.Matches)
	}
	drawState(out, v.Result)

	return out
}

func drawMatches(img *image.RGBA, matches []classifier.RoiMatch) {
	for _, m := range matches {
		if !m.Computed {
			continue
		}
		box := m.Bounds()
		cv.DrawRect(img, box, cv.ColorBlue, 2)
		cv.DrawLabel(img, image.Pt(box.Min.X, box.Min.Y-31), m.Key.State, cv.ColorBlue)
		cv.DrawLabel(img, image.Pt(box.Min.X, box.Min.Y-18), m.Key.Name, cv.ColorBlue)
		cv.DrawLabel(img, image.Pt(box.Min.X, box.Min.Y-5), fmt.Sprintf("%.3f", m.Score), cv.ColorBlue)
	}
}

// StateLabel is the status line drawn in the top-left corner
func StateLabel(r classifier.Result) string {
	if !r.Known() {
		return "State: unknown"
	}
	return fmt.Sprintf("State: %s (%.3f)", r.State, r.Score)
}

func drawState(img *image.RGBA, r classifier.Result) {
	cv.DrawLabel(img, image.Pt(img.Bounds().Min.X+10, img.Bounds().Min.Y+20), StateLabel(r), cv.ColorYellow)
}
