package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/vision"
)

// Heuristics holds the recognition tuning loaded from an optional YAML file.
// Keys absent from the file keep their vision.DefaultConfig values.
type Heuristics struct {
	path string
	v    *viper.Viper

	mu      sync.RWMutex
	current vision.Config
}

// LoadHeuristics reads path over the defaults. An empty path yields the
// defaults and a Heuristics that never changes.
func LoadHeuristics(path string) (*Heuristics, error) {
	h := &Heuristics{path: path, current: vision.DefaultConfig()}
	if path == "" {
		return h, nil
	}

	h.v = viper.New()
	h.v.SetConfigFile(path)
	cfg, err := h.read()
	if err != nil {
		return nil, err
	}
	h.current = cfg
	return h, nil
}

func (h *Heuristics) read() (vision.Config, error) {
	if err := h.v.ReadInConfig(); err != nil {
		return vision.Config{}, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "read heuristics %s", h.path)
	}
	cfg := vision.DefaultConfig()
	if err := h.v.Unmarshal(&cfg); err != nil {
		return vision.Config{}, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "decode heuristics %s", h.path)
	}
	if err := cfg.Validate(); err != nil {
		return vision.Config{}, err
	}
	return cfg, nil
}

// Config returns the heuristics currently in effect.
func (h *Heuristics) Config() vision.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Watch calls fn with every valid revision of the file until ctx is done.
// Invalid revisions are logged and the previous heuristics stay in effect.
func (h *Heuristics) Watch(ctx context.Context, fn func(vision.Config)) {
	if h.v == nil {
		return
	}
	h.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		cfg, err := h.read()
		if err != nil {
			slog.Warn("heuristics reload rejected", "path", e.Name, "error", err)
			return
		}
		h.mu.Lock()
		h.current = cfg
		h.mu.Unlock()
		slog.Info("heuristics reloaded", "path", e.Name)
		fn(cfg)
	})
	h.v.WatchConfig()
}

// WatchDir calls fn once per burst of changes to files in dir, after the
// directory has been quiet for debounce. It returns when ctx is done.
func WatchDir(ctx context.Context, dir string, debounce time.Duration, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "create watcher")
	}
	defer w.Close()

	if err := w.Add(filepath.Clean(dir)); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeAssetLoad, "watch %s", dir)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) || e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("directory watch error", "dir", dir, "error", err)
		case <-timer.C:
			fn()
		}
	}
}
