package capture

import (
	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// videoBackend reads a camera or a video file through OpenCV.
type videoBackend struct {
	target any // int device index or path
	finite bool
	vc     *gocv.VideoCapture
}

// NewVideoSource opens a capture device by index or path. Reads that fail
// are retried until the failure limit.
func NewVideoSource(name string, device any, rate float64) Source {
	return newBase(&videoBackend{target: device}, name, rate)
}

// NewFileSource plays a video file once. The end of the file ends the source.
func NewFileSource(name, path string, rate float64) Source {
	return newBase(&videoBackend{target: path, finite: true}, name, rate)
}

func (v *videoBackend) open() error {
	vc, err := gocv.OpenVideoCapture(v.target)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeCaptureFailed, "open %v", v.target)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return apperrors.Newf(apperrors.CodeCaptureFailed, "cannot open %v", v.target)
	}
	v.vc = vc
	return nil
}

func (v *videoBackend) grab(dst *gocv.Mat) error {
	if ok := v.vc.Read(dst); !ok || dst.Empty() {
		if v.finite {
			return exhausted("video")
		}
		return apperrors.Newf(apperrors.CodeCaptureFailed, "read from %v", v.target)
	}
	return nil
}

func (v *videoBackend) close() {
	if v.vc != nil {
		_ = v.vc.Close()
		v.vc = nil
	}
}
