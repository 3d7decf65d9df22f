package cv

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay colors
var (
	ColorRed    = color.RGBA{255, 0, 0, 255}
	ColorGreen  = color.RGBA{0, 255, 0, 255}
	ColorBlue   = color.RGBA{0, 0, 255, 255}
	ColorYellow = color.RGBA{255, 255, 0, 255}
)

// DrawRect outlines rect with the given stroke thickness
func DrawRect(img *image.RGBA, rect image.Rectangle, col color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness),
		image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y),
		image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// DrawCircle draws a ring of the given radius around center
func DrawCircle(img *image.RGBA, center image.Point, radius int, col color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	inner := float64(radius) - float64(thickness)/2
	outer := float64(radius) + float64(thickness)/2
	bounds := img.Bounds()

	r := radius + thickness
	for y := center.Y - r; y <= center.Y+r; y++ {
		for x := center.X - r; x <= center.X+r; x++ {
			if !(image.Point{X: x, Y: y}).In(bounds) {
				continue
			}
			d := math.Hypot(float64(x-center.X), float64(y-center.Y))
			if d >= inner && d <= outer {
				img.SetRGBA(x, y, col)
			}
		}
	}
}

// DrawLabel writes text with its baseline at pt
func DrawLabel(img *image.RGBA, pt image.Point, text string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(pt.X, pt.Y),
	}
	d.DrawString(text)
}
