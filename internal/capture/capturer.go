// Package capture delivers numbered frames from cameras, video files,
// image sequences and the desktop.
package capture

import (
	"context"
	"sync"
	"time"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

// Frame is one captured image. The receiver owns Mat and must Close it.
type Frame struct {
	Seq  uint64
	Time time.Time
	Mat  gocv.Mat
}

// Close releases the image.
func (f Frame) Close() { _ = f.Mat.Close() }

// Source produces frames in capture order. The channel returned by Start
// is closed when the source is exhausted, stopped, or ctx is done.
type Source interface {
	Name() string
	Start(ctx context.Context) (<-chan Frame, error)
	Stop()
}

// backend implements the device specific part of a source.
type backend interface {
	open() error
	// grab fills dst with the next image. It returns a CodeCaptureExhausted
	// error when a finite source has no more frames.
	grab(dst *gocv.Mat) error
	close()
}

// baseSource provides pacing, sequence numbering and lifecycle on top of a
// backend.
type baseSource struct {
	backend
	name string
	rate float64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func newBase(b backend, name string, rate float64) *baseSource {
	return &baseSource{backend: b, name: name, rate: rate}
}

func (s *baseSource) Name() string { return s.name }

func (s *baseSource) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "source already started").WithMetadata("source", s.name)
	}
	if err := s.open(); err != nil {
		return nil, err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.started = true

	out := make(chan Frame, FrameBuffer)
	go s.run(trace.WithSource(ctx, s.name), out)
	return out, nil
}

func (s *baseSource) run(ctx context.Context, out chan<- Frame) {
	defer close(s.done)
	defer close(out)
	defer s.close()

	log := trace.Logger(ctx)
	var tick <-chan time.Time
	if s.rate > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / s.rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	var seq uint64
	failures := 0
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}

		m := gocv.NewMat()
		if err := s.grab(&m); err != nil {
			_ = m.Close()
			if apperrors.IsCode(err, apperrors.CodeCaptureExhausted) {
				log.Info("source exhausted", "frames", seq)
				return
			}
			failures++
			log.Warn("capture failed", "error", err, "consecutive", failures)
			if failures >= MaxConsecutiveFailures {
				log.Error("giving up on source", "failures", failures)
				return
			}
			continue
		}
		failures = 0

		f := Frame{Seq: seq, Time: time.Now(), Mat: m}
		select {
		case out <- f:
			seq++
		case <-ctx.Done():
			f.Close()
			return
		}
	}
}

// Stop ends capture and waits for the producer to release the device.
func (s *baseSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func exhausted(name string) error {
	return apperrors.New(apperrors.CodeCaptureExhausted, "no more frames").WithMetadata("source", name)
}
