package window

import (
	"fmt"
)

// TranslatorConfig describes the mapping from captured-window pixels to
// device pixels
type TranslatorConfig struct {
	SourceWidth  int // Captured client area width
	SourceHeight int
	TargetWidth  int // Device screen width
	TargetHeight int
	OffsetY      int // Rows of window chrome above the mirrored screen
}

// Translator handles translation between window and device coordinates
type Translator struct {
	config TranslatorConfig
}

// NewTranslator creates a new translator with the given configuration
func NewTranslator(config TranslatorConfig) *Translator {
	return &Translator{config: config}
}

// IdentityTranslator maps every point to itself
func IdentityTranslator() *Translator {
	return &Translator{}
}

// TranslateX translates an X coordinate from window to device space
func (t *Translator) TranslateX(x int) int {
	if t.config.SourceWidth == 0 || t.config.TargetWidth == 0 {
		return x
	}
	scale := float64(t.config.TargetWidth) / float64(t.config.SourceWidth)
	return int(float64(x) * scale)
}

// TranslateY translates a Y coordinate, removing the chrome offset first
func (t *Translator) TranslateY(y int) int {
	if t.config.SourceHeight == 0 || t.config.TargetHeight == 0 {
		return y - t.config.OffsetY
	}
	scale := float64(t.config.TargetHeight) / float64(t.config.SourceHeight)
	return int(float64(y-t.config.OffsetY) * scale)
}

// TranslatePoint translates a point from window to device space
func (t *Translator) TranslatePoint(x, y int) (int, int) {
	return t.TranslateX(x), t.TranslateY(y)
}

// ScaleFactors returns the X and Y scale factors
func (t *Translator) ScaleFactors() (float64, float64) {
	scaleX, scaleY := 1.0, 1.0
	if t.config.SourceWidth != 0 && t.config.TargetWidth != 0 {
		scaleX = float64(t.config.TargetWidth) / float64(t.config.SourceWidth)
	}
	if t.config.SourceHeight != 0 && t.config.TargetHeight != 0 {
		scaleY = float64(t.config.TargetHeight) / float64(t.config.SourceHeight)
	}
	return scaleX, scaleY
}

// Config returns the translator configuration
func (t *Translator) Config() TranslatorConfig {
	return t.config
}

// Validate rejects negative sizes and half-specified axes
func (t *Translator) Validate() error {
	c := t.config
	if c.SourceWidth < 0 || c.SourceHeight < 0 || c.TargetWidth < 0 || c.TargetHeight < 0 {
		return fmt.Errorf("invalid translator sizes: %+v", c)
	}
	if (c.SourceWidth == 0) != (c.TargetWidth == 0) {
		return fmt.Errorf("source and target width must both be set or both be zero")
	}
	if (c.SourceHeight == 0) != (c.TargetHeight == 0) {
		return fmt.Errorf("source and target height must both be set or both be zero")
	}
	if c.OffsetY < 0 {
		return fmt.Errorf("invalid OffsetY: %d (must be >= 0)", c.OffsetY)
	}
	return nil
}

// String returns a string representation of the translator configuration
func (t *Translator) String() string {
	scaleX, scaleY := t.ScaleFactors()
	return fmt.Sprintf("Translator{Source: %dx%d, Target: %dx%d, OffsetY: %dpx, ScaleX: %.3f, ScaleY: %.3f}",
		t.config.SourceWidth, t.config.SourceHeight,
		t.config.TargetWidth, t.config.TargetHeight,
		t.config.OffsetY,
		scaleX, scaleY)
}
