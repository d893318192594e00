package capture

import (
	"image"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// screenBackend grabs one desktop display.
type screenBackend struct {
	display int
	bounds  image.Rectangle
}

// NewScreenSource captures display index display.
func NewScreenSource(name string, display int, rate float64) Source {
	return newBase(&screenBackend{display: display}, name, rate)
}

func (s *screenBackend) open() error {
	if n := screenshot.NumActiveDisplays(); s.display < 0 || s.display >= n {
		return apperrors.Newf(apperrors.CodeCaptureFailed, "display %d not available (%d active)", s.display, n)
	}
	s.bounds = screenshot.GetDisplayBounds(s.display)
	return nil
}

func (s *screenBackend) grab(dst *gocv.Mat) error {
	img, err := screenshot.CaptureRect(s.bounds)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeCaptureFailed, "capture display %d", s.display)
	}
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeCaptureFailed, "convert screenshot")
	}
	defer m.Close()
	m.CopyTo(dst)
	return nil
}

func (s *screenBackend) close() {}
