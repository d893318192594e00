package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    Spec
		wantErr bool
	}{
		{"device:0", Spec{KindDevice, "0"}, false},
		{"device:/dev/video2", Spec{KindDevice, "/dev/video2"}, false},
		{"file:/tmp/game.mp4", Spec{KindFile, "/tmp/game.mp4"}, false},
		{"dir:/tmp/frames", Spec{KindDir, "/tmp/frames"}, false},
		{"screen:1", Spec{KindScreen, "1"}, false},
		{"3", Spec{KindDevice, "3"}, false},
		{"match.mp4", Spec{KindFile, "match.mp4"}, false},
		{" device:1 ", Spec{KindDevice, "1"}, false},
		{"", Spec{}, true},
		{"rtsp:", Spec{}, true},
		{"dir:", Spec{}, true},
		{"screen:main", Spec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpec(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSpec(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
					t.Errorf("error code = %v, want INVALID_ARGUMENT", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpenNamesSource(t *testing.T) {
	src, err := Open("dir:/frames", 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if src.Name() != "dir:/frames" {
		t.Errorf("Name() = %q, want %q", src.Name(), "dir:/frames")
	}

	if _, err := Open("bogus:1", 0); err == nil {
		t.Error("Open(bogus:1) should fail")
	}
}

// writeSequence writes n 8x8 PNG frames whose top-left pixel encodes the
// frame index.
func writeSequence(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		m := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
		gocv.Rectangle(&m, image.Rect(0, 0, 8, 8), color.RGBA{B: uint8(i * 10), A: 255}, -1)
		// reverse creation order to check the sort
		path := filepath.Join(dir, fmt.Sprintf("%06d.png", n-1-i))
		if !gocv.IMWrite(path, m) {
			t.Fatalf("IMWrite(%s) failed", path)
		}
		m.Close()
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func collect(t *testing.T, ch <-chan Frame) []Frame {
	t.Helper()
	var frames []Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatal("source did not close its channel")
		}
	}
}

func TestSequenceSourceOrderAndExhaustion(t *testing.T) {
	dir := writeSequence(t, 5)
	src := NewSequenceSource("seq", dir, 0)

	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	frames := collect(t, ch)
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()

	if len(frames) != 5 {
		t.Fatalf("frames = %d, want 5", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint64(i) {
			t.Errorf("frame %d Seq = %d", i, f.Seq)
		}
		// 000000.png was written last with blue = 40
		want := uint8((4 - i) * 10)
		if got := f.Mat.GetVecbAt(0, 0)[0]; got != want {
			t.Errorf("frame %d blue = %d, want %d", i, got, want)
		}
	}
	src.Stop()
}

func TestSequenceSourceStartTwice(t *testing.T) {
	src := NewSequenceSource("seq", writeSequence(t, 1), 0)
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		for _, f := range collect(t, ch) {
			f.Close()
		}
	}()
	if _, err := src.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestSequenceSourceEmptyDir(t *testing.T) {
	src := NewSequenceSource("seq", t.TempDir(), 0)
	_, err := src.Start(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeCaptureFailed) {
		t.Errorf("Start() error = %v, want CAPTURE_FAILED", err)
	}
}

func TestSourceStopClosesChannel(t *testing.T) {
	src := NewSequenceSource("seq", writeSequence(t, 50), 20)
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f := <-ch
	f.Close()
	src.Stop()

	frames := collect(t, ch)
	for _, f := range frames {
		f.Close()
	}
	if len(frames) >= 49 {
		t.Errorf("received %d frames after Stop, want the source to end early", len(frames))
	}
}

func TestSourcePacing(t *testing.T) {
	src := NewSequenceSource("seq", writeSequence(t, 4), 20)
	start := time.Now()
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for _, f := range collect(t, ch) {
		f.Close()
	}
	// four ticks at 50ms
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("elapsed = %v, want paced to at least 150ms", elapsed)
	}
}

type failingBackend struct{ grabs int }

func (b *failingBackend) open() error { return nil }
func (b *failingBackend) grab(*gocv.Mat) error {
	b.grabs++
	return apperrors.New(apperrors.CodeCaptureFailed, "no signal")
}
func (b *failingBackend) close() {}

func TestSourceGivesUpAfterFailures(t *testing.T) {
	b := &failingBackend{}
	src := newBase(b, "dead", 0)
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if frames := collect(t, ch); len(frames) != 0 {
		t.Errorf("frames = %d, want 0", len(frames))
	}
	if b.grabs != MaxConsecutiveFailures {
		t.Errorf("grabs = %d, want %d", b.grabs, MaxConsecutiveFailures)
	}
}
