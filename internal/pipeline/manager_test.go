package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/GriffinCanCode/tetris-recorder/internal/config"
	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/game"
	"github.com/GriffinCanCode/tetris-recorder/internal/journal"
	"github.com/GriffinCanCode/tetris-recorder/internal/vision"
)

func writeBlankFrames(t *testing.T, dir string, n int) {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer m.Close()
	for i := 0; i < n; i++ {
		if !gocv.IMWrite(filepath.Join(dir, fmt.Sprintf("%03d.png", i)), m) {
			t.Fatalf("IMWrite frame %d failed", i)
		}
	}
}

func testConfig(t *testing.T, sources ...string) *config.Config {
	t.Helper()
	return &config.Config{
		Sources:   sources,
		Workers:   2,
		DataDir:   t.TempDir(),
		KeepGames: 2,
	}
}

func TestManagerSources(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	m, err := NewManager(testConfig(t, "dir:"+a, "dir:"+b), ManagerDeps{Heuristics: vision.DefaultConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	got := m.Sources()
	if len(got) != 2 || got[0] != "dir:"+a || got[1] != "dir:"+b {
		t.Errorf("Sources() = %v, want dir:%s, dir:%s", got, a, b)
	}
	if st := m.Statuses(); len(st) != 2 || st[0].Game.State != game.NotTetris {
		t.Errorf("Statuses() = %+v, want two idle sources", st)
	}
}

func TestManagerRejectsDuplicateSource(t *testing.T) {
	dir := t.TempDir()
	_, err := NewManager(testConfig(t, "dir:"+dir, "dir:"+dir), ManagerDeps{Heuristics: vision.DefaultConfig()})
	if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Errorf("NewManager() error = %v, want CONFIG_INVALID", err)
	}
}

func TestManagerUnknownSource(t *testing.T) {
	m, err := NewManager(testConfig(t, "dir:"+t.TempDir()), ManagerDeps{Heuristics: vision.DefaultConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	checks := map[string]error{
		"Reset":        m.Reset("nope"),
		"ApplyPlayer":  m.ApplyPlayer("nope", game.SlotP1, game.Player{ID: 1}),
		"ClearPlayers": m.ClearPlayers("nope"),
	}
	for name, err := range checks {
		if !apperrors.IsCode(err, apperrors.CodeNotFound) {
			t.Errorf("%s() error = %v, want NOT_FOUND", name, err)
		}
	}
}

func TestManagerRoster(t *testing.T) {
	src := "dir:" + t.TempDir()
	m, err := NewManager(testConfig(t, src), ManagerDeps{Heuristics: vision.DefaultConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.ApplyPlayer(src, game.SlotP2, game.Player{ID: 3, FirstName: "Kim"}); err != nil {
		t.Fatalf("ApplyPlayer() error = %v", err)
	}
	r, _ := m.Roster(src)
	if _, p2 := r.Names(); p2 != "Kim" {
		t.Errorf("p2 name = %q, want Kim", p2)
	}

	r.Start()
	if err := m.ClearPlayers(src); !apperrors.IsCode(err, apperrors.CodeRosterLocked) {
		t.Errorf("ClearPlayers() on a started roster error = %v, want ROSTER_LOCKED", err)
	}
	r.Clear()
	if err := m.ClearPlayers(src); err != nil {
		t.Errorf("ClearPlayers() error = %v", err)
	}

	var roster int
	for _, e := range m.RecentEvents(0) {
		if e.Kind == journal.KindRoster {
			roster++
		}
	}
	if roster != 2 {
		t.Errorf("roster events = %d, want 2", roster)
	}
}

func TestManagerRunsSources(t *testing.T) {
	dir := t.TempDir()
	writeBlankFrames(t, dir, 3)
	src := "dir:" + dir

	var mu sync.Mutex
	var seen []bool
	m, err := NewManager(testConfig(t, src), ManagerDeps{
		Heuristics: vision.DefaultConfig(),
		OnRunning: func(source string, running bool) {
			mu.Lock()
			defer mu.Unlock()
			if source == src {
				seen = append(seen, running)
			}
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	m.Start(context.Background())
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Errorf("OnRunning calls = %v, want [true false]", seen)
	}
	st := m.Statuses()[0]
	if st.Running || st.Frames != 3 || st.LastKind != "not_tetris" {
		t.Errorf("status = %+v, want 3 not_tetris frames and stopped", st)
	}
}

func TestManagerShutdown(t *testing.T) {
	glyph := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 40, 30, gocv.MatTypeCV8UC1)
	refs, err := vision.NewReferenceSet([]vision.Reference{{Label: "0", Glyph: glyph}})
	if err != nil {
		t.Fatalf("NewReferenceSet() error = %v", err)
	}
	m, err := NewManager(testConfig(t, "dir:"+t.TempDir()), ManagerDeps{References: refs, Heuristics: vision.DefaultConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	// a pipeline that has not returned yet
	m.wg.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if m.refs == nil {
		t.Error("references released while a pipeline was still running")
	}

	m.wg.Done()
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if m.refs != nil {
		t.Error("references not released after pipelines returned")
	}
}

func TestDirName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"device:0", "device_0"},
		{"file:/videos/a.mp4", "file__videos_a.mp4"},
		{"screen:1", "screen_1"},
	}
	for _, tt := range tests {
		if got := dirName(tt.in); got != tt.want {
			t.Errorf("dirName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
