package cv

import (
	"errors"
	"image"
	"image/draw"
	"math"
	"runtime"
	"sync"
)

// MatchResult contains template matching results
type MatchResult struct {
	Location image.Point // Top-left of the best window, in haystack coordinates
	Size     image.Point // Template extent
	Score    float64     // Normalized squared difference, 0 = identical
}

// Center returns the middle of the matched window
func (m MatchResult) Center() image.Point {
	return image.Point{
		X: m.Location.X + m.Size.X/2,
		Y: m.Location.Y + m.Size.Y/2,
	}
}

// Bounds returns the matched window as a rectangle
func (m MatchResult) Bounds() image.Rectangle {
	return image.Rectangle{Min: m.Location, Max: m.Location.Add(m.Size)}
}

// MatchConfig configures template matching
type MatchConfig struct {
	SearchRegion *image.Rectangle // Optional: limit search area
	Workers      int              // 0 = GOMAXPROCS
}

// DefaultMatchConfig returns recommended settings
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{}
}

// Error types
var (
	ErrTemplateTooLarge = errors.New("template larger than search image")
	ErrInvalidImage     = errors.New("invalid image provided")
)

// Frame is a haystack prepared for repeated matching.
// The squared-value integral table is shared by every template matched
// against the same capture.
type Frame struct {
	img    *image.RGBA
	width  int
	height int
	sq     []uint64 // (width+1)*(height+1) integral of r²+g²+b²
}

// PrepareFrame builds the integral table for img
func PrepareFrame(img *image.RGBA) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	stride := w + 1
	sq := make([]uint64, stride*(h+1))

	for y := 0; y < h; y++ {
		var rowSum uint64
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			r, g, bl := uint64(row[i]), uint64(row[i+1]), uint64(row[i+2])
			rowSum += r*r + g*g + bl*bl
			sq[(y+1)*stride+x+1] = sq[y*stride+x+1] + rowSum
		}
	}

	return &Frame{img: img, width: w, height: h, sq: sq}
}

// Image returns the underlying capture
func (f *Frame) Image() *image.RGBA {
	return f.img
}

// windowSum returns Σ(r²+g²+b²) over the w×h window at zero-based (x, y)
func (f *Frame) windowSum(x, y, w, h int) uint64 {
	stride := f.width + 1
	return f.sq[(y+h)*stride+x+w] - f.sq[y*stride+x+w] - f.sq[(y+h)*stride+x] + f.sq[y*stride+x]
}

// Needle is a template prepared for matching
type Needle struct {
	img    *image.RGBA
	width  int
	height int
	sumSq  uint64
}

// PrepareNeedle precomputes the template energy
func PrepareNeedle(img *image.RGBA) *Needle {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var sum uint64
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			r, g, bl := uint64(row[i]), uint64(row[i+1]), uint64(row[i+2])
			sum += r*r + g*g + bl*bl
		}
	}
	return &Needle{img: img, width: w, height: h, sumSq: sum}
}

// Size returns the template extent
func (n *Needle) Size() image.Point {
	return image.Point{X: n.width, Y: n.height}
}

type candidate struct {
	x, y  int
	score float64
}

// FindBest returns the global minimum of the normalized squared difference
// R = Σ(T−I)² / sqrt(ΣT²·ΣI²) over the RGB channels. Ties keep the first
// location in row-major order.
func (f *Frame) FindBest(n *Needle, config *MatchConfig) (MatchResult, error) {
	if config == nil {
		config = DefaultMatchConfig()
	}
	if n.width == 0 || n.height == 0 || f.width == 0 || f.height == 0 {
		return MatchResult{}, ErrInvalidImage
	}

	origin := f.img.Bounds().Min
	search := image.Rect(0, 0, f.width, f.height)
	if config.SearchRegion != nil {
		search = config.SearchRegion.Sub(origin).Intersect(search)
	}

	maxX := search.Max.X - n.width
	maxY := search.Max.Y - n.height
	if maxX < search.Min.X || maxY < search.Min.Y {
		return MatchResult{}, ErrTemplateTooLarge
	}

	rows := maxY - search.Min.Y + 1
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > rows {
		workers = rows
	}

	results := make([]candidate, workers)
	chunk := (rows + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		y0 := search.Min.Y + w*chunk
		y1 := y0 + chunk - 1
		if y1 > maxY {
			y1 = maxY
		}
		results[w] = candidate{score: math.Inf(1)}
		if y0 > y1 {
			continue
		}
		wg.Add(1)
		go func(slot, y0, y1 int) {
			defer wg.Done()
			results[slot] = f.scan(n, search.Min.X, maxX, y0, y1)
		}(w, y0, y1)
	}
	wg.Wait()

	best := candidate{score: math.Inf(1)}
	for _, c := range results {
		if c.score < best.score || (c.score == best.score && (c.y < best.y || (c.y == best.y && c.x < best.x))) {
			best = c
		}
	}

	return MatchResult{
		Location: image.Point{X: best.x + origin.X, Y: best.y + origin.Y},
		Size:     n.Size(),
		Score:    best.score,
	}, nil
}

// scan searches rows y0..y1 and returns the local minimum
func (f *Frame) scan(n *Needle, x0, x1, y0, y1 int) candidate {
	best := candidate{x: x0, y: y0, score: math.Inf(1)}
	t2 := float64(n.sumSq)
	sqrtT2 := math.Sqrt(t2)

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			i2 := float64(f.windowSum(x, y, n.width, n.height))
			den := math.Sqrt(t2 * i2)

			if den == 0 {
				// Σ(T−I)² collapses to whichever energy is non-zero.
				score := 1.0
				if n.sumSq == 0 && i2 == 0 {
					score = 0
				}
				if score < best.score {
					best = candidate{x: x, y: y, score: score}
				}
				continue
			}

			limit := best.score * den
			lower := sqrtT2 - math.Sqrt(i2)
			if lower*lower*(1-1e-9) > limit {
				continue
			}

			ssd, ok := f.ssd(n, x, y, limit)
			if !ok {
				continue
			}
			if score := ssd / den; score < best.score {
				best = candidate{x: x, y: y, score: score}
			}
		}
	}

	return best
}

// ssd accumulates Σ(T−I)² at (x, y), giving up once it exceeds limit
func (f *Frame) ssd(n *Needle, x, y int, limit float64) (float64, bool) {
	var sum uint64
	for ny := 0; ny < n.height; ny++ {
		hRow := f.img.Pix[(y+ny)*f.img.Stride+x*4:]
		nRow := n.img.Pix[ny*n.img.Stride:]
		for nx := 0; nx < n.width*4; nx += 4 {
			dr := int(hRow[nx]) - int(nRow[nx])
			dg := int(hRow[nx+1]) - int(nRow[nx+1])
			db := int(hRow[nx+2]) - int(nRow[nx+2])
			sum += uint64(dr*dr + dg*dg + db*db)
		}
		if float64(sum) > limit {
			return 0, false
		}
	}
	return float64(sum), true
}

// FindTemplate finds a template image within a larger image
func FindTemplate(haystack, needle *image.RGBA, config *MatchConfig) (MatchResult, error) {
	return PrepareFrame(haystack).FindBest(PrepareNeedle(needle), config)
}

// ToRGBA converts any image into a zero-origin RGBA
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// CropRegion extracts a rectangular region from an image
func CropRegion(img *image.RGBA, rect image.Rectangle) (*image.RGBA, error) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, ErrInvalidImage
	}
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)
	return cropped, nil
}

// Clone returns a deep copy of img
func Clone(img *image.RGBA) *image.RGBA {
	c := image.NewRGBA(img.Bounds())
	copy(c.Pix, img.Pix)
	return c
}
