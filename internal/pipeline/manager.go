package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/tetris-recorder/internal/archive"
	"github.com/GriffinCanCode/tetris-recorder/internal/capture"
	"github.com/GriffinCanCode/tetris-recorder/internal/config"
	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/game"
	"github.com/GriffinCanCode/tetris-recorder/internal/journal"
	"github.com/GriffinCanCode/tetris-recorder/internal/metrics"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
	"github.com/GriffinCanCode/tetris-recorder/internal/vision"
)

// ManagerDeps are shared by every pipeline of a Manager.
type ManagerDeps struct {
	References *vision.ReferenceSet
	Heuristics vision.Config
	Finisher   Finisher
	Metrics    *metrics.Metrics
	// OnRunning is called when a pipeline starts and stops.
	OnRunning func(source string, running bool)
}

// Manager runs one Pipeline per configured source.
type Manager struct {
	journal   *journal.Journal
	onRunning func(string, bool)

	order       []string
	pipelines   map[string]*Pipeline
	classifiers []*vision.Classifier

	mu   sync.Mutex
	refs *vision.ReferenceSet

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager opens every source in cfg.Sources. Devices are opened by Start.
func NewManager(cfg *config.Config, deps ManagerDeps) (*Manager, error) {
	m := &Manager{
		journal:   journal.New(JournalMaxEntries, JournalEventBuffer),
		onRunning: deps.OnRunning,
		pipelines: make(map[string]*Pipeline, len(cfg.Sources)),
		refs:      deps.References,
	}

	for _, spec := range cfg.Sources {
		src, err := capture.Open(spec, cfg.CaptureRate)
		if err != nil {
			return nil, err
		}
		name := src.Name()
		if _, dup := m.pipelines[name]; dup {
			return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "source %s configured twice", name).WithMetadata("key", "SOURCES")
		}

		cls := vision.NewClassifier(deps.References, deps.Heuristics)
		cls.OnTimings(deps.Metrics.Timings)
		m.classifiers = append(m.classifiers, cls)

		gamesDir := cfg.GamesDir()
		if len(cfg.Sources) > 1 {
			gamesDir = filepath.Join(gamesDir, dirName(name))
		}

		m.pipelines[name] = New(src, Deps{
			Classifier: cls,
			Archive:    archive.New(gamesDir, archive.DefaultBatchSize, archive.DefaultFlushDelay),
			Finisher:   deps.Finisher,
			Journal:    m.journal,
			Metrics:    deps.Metrics,
		}, Options{
			Workers:      cfg.Workers,
			ScoreEvery:   cfg.ScoreEvery,
			HashDistance: cfg.HashDistance,
			KeepGames:    cfg.KeepGames,
		})
		m.order = append(m.order, name)
	}
	return m, nil
}

// dirName makes a source name usable as a directory name.
func dirName(source string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, source)
}

// Start runs every pipeline until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, name := range m.order {
		p := m.pipelines[name]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.running(name, true)
			defer m.running(name, false)
			if err := p.Run(ctx); err != nil {
				trace.Logger(trace.WithSource(ctx, name)).Error("pipeline failed", "error", err)
			}
		}()
	}
}

func (m *Manager) running(name string, on bool) {
	if m.onRunning != nil {
		m.onRunning(name, on)
	}
}

// Stop cancels all pipelines and waits for them to finish delivering.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Shutdown stops every pipeline and releases the references once they have
// returned. If ctx ends first nothing is released and ctx's error is
// returned, since workers and deliveries may still be using them.
func (m *Manager) Shutdown(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		m.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every pipeline has returned.
func (m *Manager) Wait() { m.wg.Wait() }

// Sources returns source names in configuration order.
func (m *Manager) Sources() []string {
	return append([]string(nil), m.order...)
}

// Pipeline returns the pipeline of source.
func (m *Manager) Pipeline(source string) (*Pipeline, error) {
	p, ok := m.pipelines[source]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "unknown source %q", source)
	}
	return p, nil
}

// Statuses returns every pipeline status in configuration order.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.pipelines[name].Status())
	}
	return out
}

// Reset returns source to NOT_TETRIS, abandoning any recording.
func (m *Manager) Reset(source string) error {
	p, err := m.Pipeline(source)
	if err != nil {
		return err
	}
	p.Reset()
	return nil
}

// Roster returns the roster of source.
func (m *Manager) Roster(source string) (*game.Roster, error) {
	p, err := m.Pipeline(source)
	if err != nil {
		return nil, err
	}
	return p.Roster(), nil
}

// ApplyPlayer signs p up for slot on source.
func (m *Manager) ApplyPlayer(source string, slot game.Slot, p game.Player) error {
	r, err := m.Roster(source)
	if err != nil {
		return err
	}
	if err := r.Apply(slot, p); err != nil {
		return err
	}
	m.journal.Add(journal.Event{Kind: journal.KindRoster, Source: source, Message: "applied", Data: map[string]any{"slot": slot, "player": p}})
	return nil
}

// ClearPlayers empties the roster of source. A locked roster is kept.
func (m *Manager) ClearPlayers(source string) error {
	r, err := m.Roster(source)
	if err != nil {
		return err
	}
	if r.Started() {
		return apperrors.New(apperrors.CodeRosterLocked, "game already started")
	}
	r.Clear()
	m.journal.Add(journal.Event{Kind: journal.KindRoster, Source: source, Message: "cleared"})
	return nil
}

// RecentEvents returns up to n recent journal events, oldest first.
func (m *Manager) RecentEvents(n int) []journal.Event { return m.journal.Recent(n) }

// Journal returns the shared event journal.
func (m *Manager) Journal() *journal.Journal { return m.journal }

// Events returns the channel of new journal events.
func (m *Manager) Events() <-chan journal.Event { return m.journal.Events() }

// SetHeuristics applies new recognition tuning to every classifier.
func (m *Manager) SetHeuristics(cfg vision.Config) {
	for _, c := range m.classifiers {
		c.SetConfig(cfg)
	}
}

// SetReferences swaps the digit references of every classifier. The old
// set is released after a grace period so in-flight reads can finish.
func (m *Manager) SetReferences(refs *vision.ReferenceSet) {
	for _, c := range m.classifiers {
		c.SetReferences(refs)
	}
	m.mu.Lock()
	old := m.refs
	m.refs = refs
	m.mu.Unlock()
	if old != nil && old != refs {
		time.AfterFunc(ReferenceGrace, old.Close)
	}
}

// WatchReferences reloads digit references from dir whenever it changes,
// until ctx is done. A directory that fails to load keeps the current set.
func (m *Manager) WatchReferences(ctx context.Context, dir string) error {
	return config.WatchDir(ctx, dir, AssetReloadDebounce, func() {
		log := trace.Logger(ctx)
		cfg := vision.DefaultConfig()
		if len(m.classifiers) > 0 {
			cfg = m.classifiers[0].Config()
		}

		refs, err := vision.LoadReferences(dir, cfg)
		if err != nil {
			log.Warn("digit references reload rejected", "dir", dir, "error", err)
			return
		}
		m.SetReferences(refs)
		log.Info("digit references reloaded", "dir", dir, "count", refs.Len())
	})
}

// Close releases the current references. Call after Stop.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs != nil {
		m.refs.Close()
		m.refs = nil
	}
}
