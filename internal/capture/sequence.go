package capture

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// sequenceBackend replays a directory of PNG frames in name order.
type sequenceBackend struct {
	dir   string
	paths []string
	next  int
}

// NewSequenceSource replays dir's *.png files sorted by name.
func NewSequenceSource(name, dir string, rate float64) Source {
	return newBase(&sequenceBackend{dir: dir}, name, rate)
}

func (s *sequenceBackend) open() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeCaptureFailed, "read sequence dir %s", s.dir)
	}
	s.paths = s.paths[:0]
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), SequenceExt) {
			s.paths = append(s.paths, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(s.paths)
	s.next = 0
	if len(s.paths) == 0 {
		return apperrors.Newf(apperrors.CodeCaptureFailed, "no %s frames in %s", SequenceExt, s.dir)
	}
	return nil
}

func (s *sequenceBackend) grab(dst *gocv.Mat) error {
	if s.next >= len(s.paths) {
		return exhausted(s.dir)
	}
	path := s.paths[s.next]
	s.next++

	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return apperrors.Newf(apperrors.CodeCaptureFailed, "cannot decode %s", path)
	}
	img.CopyTo(dst)
	return nil
}

func (s *sequenceBackend) close() {}
