package vision

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// TimingStats records per-stage durations of one Classify call.
type TimingStats struct {
	Locate    time.Duration
	Pause     time.Duration
	TwoPlayer time.Duration
	Score     time.Duration
	Total     time.Duration
}

func (t TimingStats) String() string {
	return fmt.Sprintf("locate=%s, pause=%s, 2p=%s, score=%s, total=%s",
		ms(t.Locate), ms(t.Pause), ms(t.TwoPlayer), ms(t.Score), ms(t.Total))
}

func ms(d time.Duration) string { return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond)) }

// CumulativeTimings sums TimingStats across frames.
type CumulativeTimings struct {
	Sum    TimingStats
	Frames int
}

// Add accumulates one call.
func (c *CumulativeTimings) Add(t TimingStats) {
	c.Sum.Locate += t.Locate
	c.Sum.Pause += t.Pause
	c.Sum.TwoPlayer += t.TwoPlayer
	c.Sum.Score += t.Score
	c.Sum.Total += t.Total
	c.Frames++
}

// Average returns the mean per-frame timings.
func (c CumulativeTimings) Average() TimingStats {
	if c.Frames == 0 {
		return TimingStats{}
	}
	n := time.Duration(c.Frames)
	return TimingStats{
		Locate:    c.Sum.Locate / n,
		Pause:     c.Sum.Pause / n,
		TwoPlayer: c.Sum.TwoPlayer / n,
		Score:     c.Sum.Score / n,
		Total:     c.Sum.Total / n,
	}
}

// Classifier turns raw frames into FrameInfo values. It is safe for
// concurrent use; configuration and references can be replaced at runtime.
type Classifier struct {
	cfg  atomic.Pointer[Config]
	refs atomic.Pointer[ReferenceSet]

	mu       sync.Mutex
	last     TimingStats
	total    CumulativeTimings
	observer func(TimingStats)
}

// NewClassifier creates a classifier using refs for digit recognition.
func NewClassifier(refs *ReferenceSet, cfg Config) *Classifier {
	c := &Classifier{}
	c.cfg.Store(&cfg)
	c.refs.Store(refs)
	return c
}

// SetConfig replaces the heuristics for subsequent calls.
func (c *Classifier) SetConfig(cfg Config) { c.cfg.Store(&cfg) }

// Config returns the heuristics in use.
func (c *Classifier) Config() Config { return *c.cfg.Load() }

// SetReferences swaps the reference set and returns the previous one.
// Calls already running keep the set they started with, so the caller
// closes the old set only once those calls have drained.
func (c *Classifier) SetReferences(refs *ReferenceSet) *ReferenceSet {
	return c.refs.Swap(refs)
}

// OnTimings registers a callback invoked after every Classify call.
func (c *Classifier) OnTimings(fn func(TimingStats)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// LastTimings returns the timings of the most recent call.
func (c *Classifier) LastTimings() TimingStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Timings returns cumulative timings and resets them.
func (c *Classifier) Timings() CumulativeTimings {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.total
	c.total = CumulativeTimings{}
	return t
}

func (c *Classifier) record(t TimingStats) {
	c.mu.Lock()
	c.last = t
	c.total.Add(t)
	fn := c.observer
	c.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// Classify inspects one BGR frame. Every stage recovers from its own
// failures; a frame that cannot be located is reported as not a game frame.
// With skipScore the digit readouts are left absent but game-over is still
// evaluated.
func (c *Classifier) Classify(frame gocv.Mat, skipScore bool) FrameInfo {
	cfg := *c.cfg.Load()
	refs := c.refs.Load()

	var t TimingStats
	start := time.Now()
	defer func() {
		t.Total = time.Since(start)
		c.record(t)
	}()

	stage := time.Now()
	pf, err := LocatePlayfield(frame, cfg)
	if err != nil {
		t.Locate = time.Since(stage)
		return FrameInfo{}
	}
	crop, ok := region(frame, pf)
	if !ok {
		t.Locate = time.Since(stage)
		return FrameInfo{}
	}
	defer crop.Close()

	var layout Layout
	divider, err := LocateDivider(crop, cfg)
	if err == nil {
		layout, err = NewLayout(pf, divider)
	}
	located := err == nil
	t.Locate = time.Since(stage)

	stage = time.Now()
	paused := located && IsPaused(crop, layout, cfg)
	t.Pause = time.Since(stage)
	if paused {
		return FrameInfo{IsTetris: true, IsPaused: true}
	}

	stage = time.Now()
	var panel gocv.Mat
	two := false
	if located {
		if panel, ok = region(crop, layout.ScorePanel); ok {
			defer panel.Close()
			two = IsTwoPlayer(panel, cfg)
		}
	}
	t.TwoPlayer = time.Since(stage)
	if !two {
		return FrameInfo{IsTetris: true, InMenu: true}
	}

	stage = time.Now()
	info := FrameInfo{IsTetris: true, InGame: true, GameType: GameTypeMulti}
	c.readPlayers(&info, crop, panel, layout, refs, cfg, skipScore)
	t.Score = time.Since(stage)
	return info
}

// readPlayers fills game-over flags and, unless skipScore, the scores. A
// failure part way leaves the remaining fields at their zero values.
func (c *Classifier) readPlayers(info *FrameInfo, crop, panel gocv.Mat, layout Layout, refs *ReferenceSet, cfg Config, skipScore bool) {
	defer func() {
		if recover() != nil {
			info.P1Score, info.P2Score = Score{}, Score{}
		}
	}()

	if left, ok := region(crop, layout.LeftScreen); ok {
		info.P1GameOver = IsGameOver(left, cfg)
		left.Close()
	}
	if right, ok := region(crop, layout.RightScreen); ok {
		info.P2GameOver = IsGameOver(right, cfg)
		right.Close()
	}
	if skipScore {
		return
	}

	leftRect, rightRect, err := SplitSides(panel, cfg)
	if err != nil {
		return
	}
	info.P1Score = readSide(panel, leftRect, LeftSide, refs, cfg)
	info.P2Score = readSide(panel, rightRect, RightSide, refs, cfg)
}

func readSide(panel gocv.Mat, r image.Rectangle, side Side, refs *ReferenceSet, cfg Config) Score {
	img, ok := region(panel, r)
	if !ok {
		return Score{}
	}
	defer img.Close()
	return NewSidePanel(img, side, LayoutTwoPlayer, refs, cfg).Score()
}
