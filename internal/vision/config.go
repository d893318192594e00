// Package vision locates screen regions in captured frames of the two-player
// arcade game and classifies each frame into a FrameInfo.
package vision

import (
	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// BGR is one color bound in OpenCV channel order.
type BGR struct {
	B float64 `mapstructure:"b"`
	G float64 `mapstructure:"g"`
	R float64 `mapstructure:"r"`
}

// ColorRange is an inclusive per-channel mask range.
type ColorRange struct {
	Lower BGR `mapstructure:"lower"`
	Upper BGR `mapstructure:"upper"`
}

func (c ColorRange) lowerScalar() gocv.Scalar { return gocv.NewScalar(c.Lower.B, c.Lower.G, c.Lower.R, 0) }
func (c ColorRange) upperScalar() gocv.Scalar { return gocv.NewScalar(c.Upper.B, c.Upper.G, c.Upper.R, 0) }

func (c ColorRange) valid() bool {
	return c.Lower.B <= c.Upper.B && c.Lower.G <= c.Upper.G && c.Lower.R <= c.Upper.R &&
		c.Lower.B >= 0 && c.Lower.G >= 0 && c.Lower.R >= 0 &&
		c.Upper.B <= 255 && c.Upper.G <= 255 && c.Upper.R <= 255
}

// Config holds every recognition heuristic. Values are tuned for full
// resolution (1920x1080) capture.
type Config struct {
	// Playfield location.
	PlayfieldThreshold float32 `mapstructure:"playfield_threshold"`
	PlayfieldMin       int     `mapstructure:"playfield_min"`
	PlayfieldMax       int     `mapstructure:"playfield_max"`

	// Pixels whose channels are all <= BackgroundLevel count as background
	// when scanning for the divider.
	BackgroundLevel uint8 `mapstructure:"background_level"`

	// Score panel.
	PanelMask                   ColorRange `mapstructure:"panel_mask"`
	MinBandHeight               int        `mapstructure:"min_band_height"`
	NextMask                    ColorRange `mapstructure:"next_mask"`
	NextPixelThreshold          int        `mapstructure:"next_pixel_threshold"`
	NextPixelThresholdTwoPlayer int        `mapstructure:"next_pixel_threshold_two_player"`

	// Glyph extraction.
	DigitThreshold   float32 `mapstructure:"digit_threshold"`
	MinGlyphHeight   int     `mapstructure:"min_glyph_height"`
	MinGlyphWidth    int     `mapstructure:"min_glyph_width"`
	MinHeightToWidth float64 `mapstructure:"min_height_to_width"`
	MinAspect        float64 `mapstructure:"min_aspect"`
	MaxAspect        float64 `mapstructure:"max_aspect"`

	// Game over banner.
	GameOverMask        ColorRange `mapstructure:"game_over_mask"`
	GameOverThreshold   float32    `mapstructure:"game_over_threshold"`
	GameOverMinContours int        `mapstructure:"game_over_min_contours"`

	// Pause overlay and two-player detection.
	PauseMask          ColorRange `mapstructure:"pause_mask"`
	PauseInset         float64    `mapstructure:"pause_inset"`
	PauseMinPixels     int        `mapstructure:"pause_min_pixels"`
	TwoPlayerMask      ColorRange `mapstructure:"two_player_mask"`
	TwoPlayerMinPixels int        `mapstructure:"two_player_min_pixels"`
}

var redMask = ColorRange{Lower: BGR{0, 0, 150}, Upper: BGR{100, 100, 255}}

// DefaultConfig returns the full resolution heuristics.
func DefaultConfig() Config {
	return Config{
		PlayfieldThreshold: 5,
		PlayfieldMin:       900,
		PlayfieldMax:       1250,
		BackgroundLevel:    0,

		PanelMask:                   ColorRange{Lower: BGR{10, 10, 10}, Upper: BGR{255, 255, 255}},
		MinBandHeight:               50,
		NextMask:                    redMask,
		NextPixelThreshold:          100,
		NextPixelThresholdTwoPlayer: 50,

		DigitThreshold:   50,
		MinGlyphHeight:   25,
		MinGlyphWidth:    20,
		MinHeightToWidth: 0.7,
		MinAspect:        0.6,
		MaxAspect:        1.5,

		GameOverMask:        redMask,
		GameOverThreshold:   10,
		GameOverMinContours: 3,

		PauseMask:          ColorRange{Lower: BGR{0, 0, 200}, Upper: BGR{50, 50, 255}},
		PauseInset:         0.1,
		PauseMinPixels:     0,
		TwoPlayerMask:      redMask,
		TwoPlayerMinPixels: 50,
	}
}

// Validate rejects configurations that would make a detector meaningless.
func (c Config) Validate() error {
	switch {
	case c.PlayfieldMin <= 0 || c.PlayfieldMax <= c.PlayfieldMin:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "playfield window (%d, %d) is empty", c.PlayfieldMin, c.PlayfieldMax)
	case c.MinBandHeight <= 0:
		return apperrors.New(apperrors.CodeConfigInvalid, "min_band_height must be positive")
	case c.MinAspect <= 0 || c.MaxAspect < c.MinAspect:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "aspect window [%g, %g] is empty", c.MinAspect, c.MaxAspect)
	case c.PauseInset < 0 || c.PauseInset >= 0.5:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "pause_inset %g outside [0, 0.5)", c.PauseInset)
	case c.GameOverMinContours <= 0:
		return apperrors.New(apperrors.CodeConfigInvalid, "game_over_min_contours must be positive")
	}
	for name, r := range map[string]ColorRange{
		"panel_mask":      c.PanelMask,
		"next_mask":       c.NextMask,
		"game_over_mask":  c.GameOverMask,
		"pause_mask":      c.PauseMask,
		"two_player_mask": c.TwoPlayerMask,
	} {
		if !r.valid() {
			return apperrors.Newf(apperrors.CodeConfigInvalid, "%s bounds are inverted or outside 0..255", name)
		}
	}
	return nil
}
