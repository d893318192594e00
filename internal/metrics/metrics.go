// Package metrics exposes recorder counters and latencies to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/tetris-recorder/internal/game"
	"github.com/GriffinCanCode/tetris-recorder/internal/resilience"
	"github.com/GriffinCanCode/tetris-recorder/internal/vision"
)

// Game outcomes.
const (
	OutcomeRecorded  = "recorded"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// Metrics holds the recorder collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	frames       *prometheus.CounterVec
	scoreSkipped *prometheus.CounterVec
	stage        *prometheus.HistogramVec
	state        *prometheus.GaugeVec
	games        *prometheus.CounterVec
	archived     *prometheus.CounterVec
	warnings     *prometheus.CounterVec
	breaker      *prometheus.GaugeVec
}

// New registers all collectors plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "frames_total",
			Help: "Classified frames by source and kind.",
		}, []string{"source", "kind"}),
		scoreSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "score_skipped_total",
			Help: "Frames classified without reading digits.",
		}, []string{"source"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Name: "classify_stage_seconds",
			Help:    "Classifier stage latency.",
			Buckets: StageBuckets,
		}, []string{"stage"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "state",
			Help: "1 for the current game state of each source.",
		}, []string{"source", "state"}),
		games: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "games_total",
			Help: "Finished games by outcome.",
		}, []string{"source", "outcome"}),
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "archived_frames_total",
			Help: "Frames queued to the game archive.",
		}, []string{"source"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "warnings_total",
			Help: "Pipeline warnings by reason.",
		}, []string{"source", "reason"}),
		breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),
	}
	m.registry.MustRegister(
		m.frames, m.scoreSkipped, m.stage, m.state, m.games, m.archived, m.warnings, m.breaker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Frame counts one classified frame.
func (m *Metrics) Frame(source string, info vision.FrameInfo) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(source, info.Kind()).Inc()
}

// ScoreSkipped counts a frame classified without digits.
func (m *Metrics) ScoreSkipped(source string) {
	if m == nil {
		return
	}
	m.scoreSkipped.WithLabelValues(source).Inc()
}

// Timings records classifier stage latencies. Stages that did not run are
// skipped.
func (m *Metrics) Timings(t vision.TimingStats) {
	if m == nil {
		return
	}
	for stage, d := range map[string]float64{
		"locate":     t.Locate.Seconds(),
		"pause":      t.Pause.Seconds(),
		"two_player": t.TwoPlayer.Seconds(),
		"score":      t.Score.Seconds(),
		"total":      t.Total.Seconds(),
	} {
		if d > 0 {
			m.stage.WithLabelValues(stage).Observe(d)
		}
	}
}

// State marks s as the current state of source.
func (m *Metrics) State(source string, s game.State) {
	if m == nil {
		return
	}
	for _, st := range []game.State{game.NotTetris, game.Menu, game.Game, game.GameOver} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(source, st.String()).Set(v)
	}
}

// Game counts a finished game.
func (m *Metrics) Game(source, outcome string) {
	if m == nil {
		return
	}
	m.games.WithLabelValues(source, outcome).Inc()
}

// Archived counts a frame queued to the archive.
func (m *Metrics) Archived(source string) {
	if m == nil {
		return
	}
	m.archived.WithLabelValues(source).Inc()
}

// Warning counts a pipeline warning.
func (m *Metrics) Warning(source, reason string) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(source, reason).Inc()
}

// BreakerHook returns a resilience breaker hook that tracks breaker state.
func (m *Metrics) BreakerHook() func(name string, from, to resilience.State) {
	return func(name string, _, to resilience.State) {
		if m == nil {
			return
		}
		m.breaker.WithLabelValues(name).Set(float64(to))
	}
}
