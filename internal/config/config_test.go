package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/vision"
)

var envVars = []string{
	"HTTP_ADDR", "GRPC_ADDR", "SOURCES", "CAPTURE_RATE", "WORKERS", "DIGITS_DIR",
	"HEURISTICS_FILE", "DATA_DIR", "KEEP_GAMES", "VIDEO_FPS", "FFMPEG_PATH",
	"DB_DRIVER", "DB_DSN", "TELEGRAM_TOKEN", "TELEGRAM_CHAT", "NOTIFY_ENABLED",
	"NOTIFY_TIMEOUT", "SCORE_EVERY", "HASH_DISTANCE", "SHUTDOWN_TIMEOUT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.GRPCAddr != ":50051" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":50051")
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0] != "device:0" {
		t.Errorf("Sources = %v, want [device:0]", cfg.Sources)
	}
	if cfg.CaptureRate != 10 {
		t.Errorf("CaptureRate = %f, want %f", cfg.CaptureRate, 10.0)
	}
	if cfg.KeepGames != 5 {
		t.Errorf("KeepGames = %d, want %d", cfg.KeepGames, 5)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.DBDSN != filepath.Join("data", "games.db") {
		t.Errorf("DBDSN = %q", cfg.DBDSN)
	}
	if cfg.NotifyConfigured() {
		t.Error("NotifyConfigured() = true without a token")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOURCES", "device:0, file:/tmp/a.mp4 ,,dir:/frames")
	t.Setenv("WORKERS", "4")
	t.Setenv("NOTIFY_ENABLED", "false")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("DATA_DIR", "/var/lib/rec")
	t.Setenv("HASH_DISTANCE", "nope")

	cfg := Load()

	if want := []string{"device:0", "file:/tmp/a.mp4", "dir:/frames"}; len(cfg.Sources) != len(want) {
		t.Errorf("Sources = %v, want %v", cfg.Sources, want)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.NotifyEnabled {
		t.Error("NotifyEnabled should be false")
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
	}
	if cfg.GamesDir() != filepath.Join("/var/lib/rec", "games") {
		t.Errorf("GamesDir() = %q", cfg.GamesDir())
	}
	if cfg.HashDistance != 2 {
		t.Errorf("HashDistance = %d, want default 2 for an unparsable value", cfg.HashDistance)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		code apperrors.Code
	}{
		{"no sources", func(c *Config) { c.Sources = nil }, apperrors.CodeConfigInvalid},
		{"zero workers", func(c *Config) { c.Workers = 0 }, apperrors.CodeConfigInvalid},
		{"negative rate", func(c *Config) { c.CaptureRate = -1 }, apperrors.CodeConfigInvalid},
		{"bad driver", func(c *Config) { c.DBDriver = "oracle" }, apperrors.CodeConfigInvalid},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, apperrors.CodeConfigInvalid},
		{"token without chat", func(c *Config) { c.TelegramToken = "t" }, apperrors.CodeConfigMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := Load()
			tt.mut(cfg)
			if err := cfg.Validate(); !apperrors.IsCode(err, tt.code) {
				t.Errorf("Validate() = %v, want %v", err, tt.code)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	if l, err := cfg.SlogLevel(); err != nil || l != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, %v", l, err)
	}
}

func TestLoadHeuristicsDefaults(t *testing.T) {
	h, err := LoadHeuristics("")
	if err != nil {
		t.Fatalf("LoadHeuristics: %v", err)
	}
	if h.Config() != vision.DefaultConfig() {
		t.Error("empty path should yield the defaults")
	}
	h.Watch(context.Background(), func(vision.Config) { t.Error("unexpected change") })
}

func TestLoadHeuristicsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heuristics.yaml")
	yaml := `
game_over_min_contours: 4
pause_mask:
  lower: {b: 0, g: 0, r: 180}
  upper: {b: 60, g: 60, r: 255}
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := LoadHeuristics(path)
	if err != nil {
		t.Fatalf("LoadHeuristics: %v", err)
	}
	cfg := h.Config()
	if cfg.GameOverMinContours != 4 {
		t.Errorf("GameOverMinContours = %d, want 4", cfg.GameOverMinContours)
	}
	if cfg.PauseMask.Lower.R != 180 || cfg.PauseMask.Upper.B != 60 {
		t.Errorf("PauseMask = %+v", cfg.PauseMask)
	}
	if cfg.PlayfieldMin != vision.DefaultConfig().PlayfieldMin {
		t.Errorf("PlayfieldMin = %d, want default", cfg.PlayfieldMin)
	}
}

func TestLoadHeuristicsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heuristics.yaml")
	if err := os.WriteFile(path, []byte("pause_inset: 0.9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHeuristics(path); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Errorf("LoadHeuristics() = %v, want CodeConfigInvalid", err)
	}
	if _, err := LoadHeuristics(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadHeuristics(missing) succeeded")
	}
}

func TestWatchDir(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchDir(ctx, dir, 20*time.Millisecond, func() { fired <- struct{}{} })
	}()

	// give the watcher time to register
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(filepath.Join(dir, "7.png"), []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchDir did not fire")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchDir() = %v, want nil", err)
	}
}

func TestWatchDirMissing(t *testing.T) {
	err := WatchDir(context.Background(), filepath.Join(t.TempDir(), "nope"), time.Millisecond, func() {})
	if !apperrors.IsCode(err, apperrors.CodeAssetLoad) {
		t.Errorf("WatchDir() = %v, want CodeAssetLoad", err)
	}
}
