package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

func newFrame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 16, 16, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func fixedClock(ts string) func() time.Time {
	tm, _ := time.Parse(time.RFC3339, ts)
	return func() time.Time { return tm }
}

func listFrames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) error = %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestArchiveSealWritesFrames(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a := New(root, 3, time.Hour)
	a.now = fixedClock("2024-01-15T14:30:45Z")
	frame := newFrame(t)

	for _, seq := range []uint64{7, 8, 9, 10, 12} {
		if err := a.Add(ctx, seq, frame); err != nil {
			t.Fatalf("Add(%d) error = %v", seq, err)
		}
	}

	dir, n, err := a.Seal(ctx)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if want := filepath.Join(root, "game_2024_01_15_14_30_45"); dir != want {
		t.Errorf("Seal() dir = %q, want %q", dir, want)
	}
	if n != 5 {
		t.Errorf("Seal() frames = %d, want 5", n)
	}

	want := []string{"000007.png", "000008.png", "000009.png", "000010.png", "000012.png"}
	got := listFrames(t, dir)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("frames = %v, want %v", got, want)
	}
	if a.Current() != "" {
		t.Errorf("Current() after Seal = %q, want empty", a.Current())
	}
}

func TestArchiveAddCopiesFrame(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir(), 10, time.Hour)
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 0), 8, 8, gocv.MatTypeCV8UC3)

	if err := a.Add(ctx, 0, frame); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	frame.Close()

	dir, n, err := a.Seal(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Seal() = %q, %d, %v", dir, n, err)
	}
	img := gocv.IMRead(filepath.Join(dir, "000000.png"), gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		t.Fatal("archived frame unreadable")
	}
	if px := img.GetVecbAt(0, 0); px[0] != 1 || px[2] != 3 {
		t.Errorf("pixel = %v, want [1 2 3]", px)
	}
}

func TestArchiveTimerFlush(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir(), 100, 20*time.Millisecond)

	if err := a.Add(ctx, 1, newFrame(t)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	dir := a.Current()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, "000001.png")); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("frame not written after flush delay")
}

func TestArchiveSameSecondGetsDistinctDirs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a := New(root, 1, time.Hour)
	a.now = fixedClock("2024-01-15T14:30:45Z")

	var dirs []string
	for i := 0; i < 2; i++ {
		if err := a.Add(ctx, 0, newFrame(t)); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		dir, _, err := a.Seal(ctx)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		dirs = append(dirs, filepath.Base(dir))
	}
	if dirs[0] == dirs[1] {
		t.Errorf("both games sealed into %s", dirs[0])
	}
	if dirs[1] != "game_2024_01_15_14_30_45_2" {
		t.Errorf("second dir = %s", dirs[1])
	}
}

func TestArchiveDiscard(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir(), 2, time.Hour)
	frame := newFrame(t)

	for seq := uint64(0); seq < 3; seq++ {
		_ = a.Add(ctx, seq, frame)
	}
	dir := a.Current()

	if err := a.Discard(ctx); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory %s still exists after Discard", dir)
	}
	if err := a.Discard(ctx); err != nil {
		t.Errorf("Discard() with nothing in progress = %v, want nil", err)
	}
}

func TestArchiveSealEmpty(t *testing.T) {
	a := New(t.TempDir(), 2, time.Hour)
	_, _, err := a.Seal(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeArchive) {
		t.Errorf("Seal() error = %v, want ARCHIVE_FAILED", err)
	}
}

func TestArchiveCleanup(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	for i := 1; i <= 4; i++ {
		if err := os.Mkdir(filepath.Join(root, fmt.Sprintf("game_2024_01_0%d_00_00_00", i)), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}

	a := New(root, 1, time.Hour)
	a.now = fixedClock("2024-02-01T00:00:00Z")
	if err := a.Add(ctx, 0, newFrame(t)); err != nil {
		t.Fatal(err)
	}

	removed, err := a.Cleanup(ctx, 2)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %d dirs, want 2: %v", len(removed), removed)
	}
	for _, r := range removed {
		if !strings.HasSuffix(r, "01_00_00_00") && !strings.HasSuffix(r, "02_00_00_00") {
			t.Errorf("removed %s, want the two oldest", r)
		}
	}

	want := []string{"game_2024_01_03_00_00_00", "game_2024_01_04_00_00_00", "game_2024_02_01_00_00_00", "scratch"}
	if got := listFrames(t, root); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("remaining = %v, want %v", got, want)
	}
	_ = a.Discard(ctx)
}

func TestArchiveCleanupMissingRoot(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "absent"), 1, time.Hour)
	removed, err := a.Cleanup(context.Background(), 1)
	if err != nil || len(removed) != 0 {
		t.Errorf("Cleanup() = %v, %v, want nothing", removed, err)
	}
}
