package cv

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noiseImage fills a w×h image with deterministic pseudo-random pixels
func noiseImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func TestFindTemplateExactCopyScoresZero(t *testing.T) {
	frame := noiseImage(120, 90, 1)
	box := image.Rect(37, 21, 37+16, 21+12)
	needle, err := CropRegion(frame, box)
	require.NoError(t, err)

	for _, workers := range []int{1, 3, 0} {
		result, err := FindTemplate(frame, needle, &MatchConfig{Workers: workers})
		require.NoError(t, err)
		assert.Equal(t, box.Min, result.Location, "workers=%d", workers)
		assert.Equal(t, 0.0, result.Score, "workers=%d", workers)
		assert.Equal(t, image.Pt(37+8, 21+6), result.Center())
		assert.Equal(t, box, result.Bounds())
	}
}

func TestFindTemplateAbsentScoresHigh(t *testing.T) {
	frame := noiseImage(80, 60, 2)
	needle := noiseImage(10, 10, 99)

	result, err := FindTemplate(frame, needle, nil)
	require.NoError(t, err)
	assert.Greater(t, result.Score, 0.1)
}

func TestFindTemplateMatchesBruteForce(t *testing.T) {
	frame := noiseImage(40, 30, 3)
	needle := noiseImage(6, 5, 4)
	// Plant a slightly perturbed copy so the minimum is unique but non-zero.
	for y := 0; y < 5; y++ {
		for x := 0; x < 6; x++ {
			c := needle.RGBAAt(x, y)
			c.R ^= 1
			frame.SetRGBA(11+x, 7+y, c)
		}
	}

	result, err := FindTemplate(frame, needle, &MatchConfig{Workers: 4})
	require.NoError(t, err)

	bestScore, bestAt := 1e18, image.Point{}
	for y := 0; y <= 30-5; y++ {
		for x := 0; x <= 40-6; x++ {
			s := bruteScore(frame, needle, x, y)
			if s < bestScore {
				bestScore, bestAt = s, image.Pt(x, y)
			}
		}
	}
	assert.Equal(t, bestAt, result.Location)
	assert.InDelta(t, bestScore, result.Score, 1e-12)
}

func bruteScore(frame, needle *image.RGBA, x, y int) float64 {
	var ssd, t2, i2 float64
	b := needle.Bounds()
	for ny := 0; ny < b.Dy(); ny++ {
		for nx := 0; nx < b.Dx(); nx++ {
			h := frame.RGBAAt(x+nx, y+ny)
			n := needle.RGBAAt(nx, ny)
			for _, pair := range [][2]uint8{{h.R, n.R}, {h.G, n.G}, {h.B, n.B}} {
				hv, nv := float64(pair[0]), float64(pair[1])
				ssd += (hv - nv) * (hv - nv)
				t2 += nv * nv
				i2 += hv * hv
			}
		}
	}
	den := t2 * i2
	if den == 0 {
		if ssd == 0 {
			return 0
		}
		return 1
	}
	return ssd / math.Sqrt(den)
}

func TestFindTemplateTiesKeepFirstLocation(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 30, 20))
	white := color.RGBA{255, 255, 255, 255}
	for _, at := range []image.Point{{20, 12}, {4, 3}} {
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				frame.SetRGBA(at.X+x, at.Y+y, white)
			}
		}
	}
	needle, err := CropRegion(frame, image.Rect(20, 12, 23, 15))
	require.NoError(t, err)

	result, err := FindTemplate(frame, needle, &MatchConfig{Workers: 5})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(4, 3), result.Location)
	assert.Equal(t, 0.0, result.Score)
}

func TestFindTemplateBlackOnBlack(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))
	needle := image.NewRGBA(image.Rect(0, 0, 3, 3))

	result, err := FindTemplate(frame, needle, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, image.Pt(0, 0), result.Location)
}

func TestFindTemplateSearchRegion(t *testing.T) {
	frame := noiseImage(60, 60, 5)
	needle, err := CropRegion(frame, image.Rect(40, 40, 48, 48))
	require.NoError(t, err)

	region := image.Rect(0, 0, 30, 30)
	result, err := FindTemplate(frame, needle, &MatchConfig{SearchRegion: &region})
	require.NoError(t, err)
	assert.True(t, result.Bounds().In(region))
	assert.Greater(t, result.Score, 0.0)
}

func TestFindTemplateTooLarge(t *testing.T) {
	_, err := FindTemplate(noiseImage(10, 10, 6), noiseImage(11, 4, 7), nil)
	assert.ErrorIs(t, err, ErrTemplateTooLarge)
}

func TestFindTemplateSubImageOrigin(t *testing.T) {
	base := noiseImage(50, 50, 8)
	sub := base.SubImage(image.Rect(10, 10, 50, 50)).(*image.RGBA)
	needle, err := CropRegion(base, image.Rect(30, 25, 36, 31))
	require.NoError(t, err)

	result, err := FindTemplate(sub, needle, nil)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(30, 25), result.Location)
	assert.Equal(t, 0.0, result.Score)
}

func TestToRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 8, 9))
	src.SetNRGBA(5, 5, color.NRGBA{10, 20, 30, 255})

	out := ToRGBA(src)
	assert.Equal(t, image.Rect(0, 0, 3, 4), out.Bounds())
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, out.RGBAAt(0, 0))

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 2))
	assert.Same(t, rgba, ToRGBA(rgba))
}

func TestCropRegionOutside(t *testing.T) {
	_, err := CropRegion(noiseImage(10, 10, 9), image.Rect(20, 20, 30, 30))
	assert.ErrorIs(t, err, ErrInvalidImage)
}
