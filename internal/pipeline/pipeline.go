package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/GriffinCanCode/tetris-recorder/internal/capture"
	"github.com/GriffinCanCode/tetris-recorder/internal/game"
	"github.com/GriffinCanCode/tetris-recorder/internal/journal"
	"github.com/GriffinCanCode/tetris-recorder/internal/metrics"
	"github.com/GriffinCanCode/tetris-recorder/internal/syncx"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
	"github.com/GriffinCanCode/tetris-recorder/internal/vision"
)

// Classifier turns a frame into a FrameInfo.
type Classifier interface {
	Classify(frame gocv.Mat, skipScore bool) vision.FrameInfo
}

// Archive stores the frames of the game in progress.
type Archive interface {
	Add(ctx context.Context, seq uint64, frame gocv.Mat) error
	Seal(ctx context.Context) (dir string, frames int, err error)
	Discard(ctx context.Context) error
	Cleanup(ctx context.Context, keep int) ([]string, error)
}

// Finisher delivers a finished game and returns it with the delivery
// details filled in.
type Finisher interface {
	Finish(ctx context.Context, g Game) (Game, error)
}

// Game is a finished, valid game handed to the Finisher.
type Game struct {
	ID        string       `json:"id"`
	Source    string       `json:"source"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	P1Name    string       `json:"p1_name"`
	P2Name    string       `json:"p2_name"`
	P1Score   vision.Score `json:"p1_score"`
	P2Score   vision.Score `json:"p2_score"`
	FramesDir string       `json:"frames_dir,omitempty"`
	Frames    int          `json:"frames"`
	VideoPath string       `json:"video_path,omitempty"`
}

// Status is the observable state of one pipeline.
type Status struct {
	Source   string        `json:"source"`
	Running  bool          `json:"running"`
	Game     game.Snapshot `json:"game"`
	GameID   string        `json:"game_id,omitempty"`
	Frames   uint64        `json:"frames"`
	LastSeq  uint64        `json:"last_seq"`
	LastKind string        `json:"last_kind,omitempty"`
	Skipped  uint64        `json:"score_skipped"`
	P1Name   string        `json:"p1_name"`
	P2Name   string        `json:"p2_name"`
	Error    string        `json:"error,omitempty"`
	Updated  time.Time     `json:"updated"`
}

// TransitionData is the payload of a transition event.
type TransitionData struct {
	From    game.State   `json:"from"`
	To      game.State   `json:"to"`
	Seq     uint64       `json:"seq"`
	P1Score vision.Score `json:"p1_score"`
	P2Score vision.Score `json:"p2_score"`
	GameID  string       `json:"game_id,omitempty"`
}

// Options tunes a pipeline.
type Options struct {
	Workers       int
	ScoreEvery    int
	HashDistance  int
	KeepGames     int
	FinishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.FinishTimeout <= 0 {
		o.FinishTimeout = DefaultFinishTimeout
	}
	return o
}

// Pipeline reads one source, classifies frames on a worker pool and applies
// the results to a private state machine strictly in capture order.
type Pipeline struct {
	name     string
	src      capture.Source
	cls      Classifier
	arc      Archive
	fin      Finisher
	journal  *journal.Journal
	metrics  *metrics.Metrics
	roster   *game.Roster
	opts     Options
	status   *syncx.RWGuard[Status]
	resetCh  chan struct{}
	finishWG sync.WaitGroup
	now      func() time.Time

	// deliveries still running; cleanup waits for none
	delivering atomic.Int32

	// owned by the applier goroutine
	sm        *game.StateMachine
	gameID    string
	gameStart time.Time
}

// Deps are a pipeline's collaborators. Journal and Metrics may be nil;
// Archive and Finisher may be nil to run without recording.
type Deps struct {
	Classifier Classifier
	Archive    Archive
	Finisher   Finisher
	Journal    *journal.Journal
	Metrics    *metrics.Metrics
}

// New creates a pipeline for src.
func New(src capture.Source, deps Deps, opts Options) *Pipeline {
	j := deps.Journal
	if j == nil {
		j = journal.New(JournalMaxEntries, 0)
	}
	p := &Pipeline{
		name:    src.Name(),
		src:     src,
		cls:     deps.Classifier,
		arc:     deps.Archive,
		fin:     deps.Finisher,
		journal: j,
		metrics: deps.Metrics,
		roster:  game.NewRoster(),
		opts:    opts.withDefaults(),
		resetCh: make(chan struct{}, 1),
		now:     time.Now,
		sm:      game.NewStateMachine(),
	}
	p1, p2 := p.roster.Names()
	p.status = syncx.NewGuard(Status{Source: p.name, P1Name: p1, P2Name: p2})
	return p
}

// Name returns the source name.
func (p *Pipeline) Name() string { return p.name }

// Roster returns the player roster of this source.
func (p *Pipeline) Roster() *game.Roster { return p.roster }

// Status returns the latest status.
func (p *Pipeline) Status() Status { return p.status.Get() }

// StatusChanged returns a channel closed at the next status update.
func (p *Pipeline) StatusChanged() <-chan struct{} { return p.status.Changed() }

// Reset asks the applier to abandon any recording and return to NOT_TETRIS.
func (p *Pipeline) Reset() {
	select {
	case p.resetCh <- struct{}{}:
	default:
	}
}

type job struct {
	idx   uint64
	frame capture.Frame
	skip  bool
}

type result struct {
	job
	info vision.FrameInfo
}

// Run processes frames until the source ends or ctx is done, then discards
// any unfinished recording and waits for pending deliveries.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx = trace.WithSource(ctx, p.name)
	log := trace.Logger(ctx)

	frames, err := p.src.Start(ctx)
	if err != nil {
		p.status.Write(func(s *Status) { s.Error = err.Error(); s.Updated = p.now() })
		p.journal.Add(journal.Event{Kind: journal.KindSource, Source: p.name, Message: "start failed: " + err.Error()})
		return err
	}
	defer p.src.Stop()

	p.status.Write(func(s *Status) { s.Running, s.Error, s.Updated = true, "", p.now() })
	p.journal.Add(journal.Event{Kind: journal.KindSource, Source: p.name, Message: "started"})
	p.metrics.State(p.name, p.sm.State())
	log.Info("pipeline started", "workers", p.opts.Workers)

	jobs := make(chan job, p.opts.Workers)
	results := make(chan result, p.opts.Workers)

	go p.dispatch(ctx, frames, jobs)

	var workers sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.work(jobs, results)
		}()
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	p.applyInOrder(ctx, results)

	if p.sm.State() == game.Game {
		p.abandon(ctx, "source ended during a game")
	}
	p.finishWG.Wait()

	p.status.Write(func(s *Status) { s.Running, s.Updated = false, p.now() })
	p.journal.Add(journal.Event{Kind: journal.KindSource, Source: p.name, Message: "stopped"})
	log.Info("pipeline stopped")
	return nil
}

// dispatch numbers frames and decides which may skip digit reading.
func (p *Pipeline) dispatch(ctx context.Context, frames <-chan capture.Frame, jobs chan<- job) {
	defer close(jobs)
	policy := newScorePolicy(p.opts.ScoreEvery, p.opts.HashDistance)
	var idx uint64
	for f := range frames {
		if ctx.Err() != nil {
			f.Close()
			continue
		}
		jobs <- job{idx: idx, frame: f, skip: policy.skip(f.Mat)}
		idx++
	}
}

func (p *Pipeline) work(jobs <-chan job, results chan<- result) {
	for j := range jobs {
		info := p.cls.Classify(j.frame.Mat, j.skip)
		info.Seq = j.frame.Seq
		results <- result{job: j, info: info}
	}
}

// applyInOrder re-sequences results and applies them one at a time. It
// drains results fully so upstream goroutines never block.
func (p *Pipeline) applyInOrder(ctx context.Context, results <-chan result) {
	pending := make(map[uint64]result)
	var next uint64

	for {
		select {
		case <-p.resetCh:
			p.reset(ctx)
			continue
		case r, ok := <-results:
			if !ok {
				for _, r := range pending {
					r.frame.Close()
				}
				return
			}
			pending[r.idx] = r
		}

		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if ctx.Err() == nil {
				p.apply(ctx, r)
			}
			r.frame.Close()
		}
	}
}

// apply feeds one classification to the state machine and reacts to the
// transition it causes.
func (p *Pipeline) apply(ctx context.Context, r result) {
	info := r.info
	frameCtx := trace.WithFrame(ctx, info.Seq)
	if p.gameID != "" {
		frameCtx = trace.WithGame(frameCtx, p.gameID)
	}
	log := trace.Logger(frameCtx)

	before := p.sm.Snapshot()
	if r.skip {
		p.metrics.ScoreSkipped(p.name)
		// the latch needs final scores, so read them now
		if before.State == game.Game && !before.GameOverDetected && info.BothGameOver() {
			info = p.cls.Classify(r.frame.Mat, false)
			info.Seq = r.frame.Seq
			log.Debug("re-classified game over frame with scores", "info", info)
		}
	}
	info.Frame = &r.frame.Mat
	p.metrics.Frame(p.name, info)

	if before.State == game.Game && info.InGame && info.HasValidScores() && !info.ScoresAreZero() {
		p.checkMonotonic(frameCtx, before, info)
	}

	old, next := p.sm.Update(info)

	if old != next {
		p.transition(frameCtx, old, next, info)
	}
	if p.sm.State() == game.Game && p.arc != nil {
		if err := p.arc.Add(frameCtx, info.Seq, *info.Frame); err != nil {
			log.Warn("archive frame failed", "error", err)
			p.metrics.Warning(p.name, WarnArchive)
		} else {
			p.metrics.Archived(p.name)
		}
	}

	snap := p.sm.Snapshot()
	p1, p2 := p.roster.Names()
	p.status.Write(func(s *Status) {
		s.Game = snap
		s.GameID = p.gameID
		s.Frames++
		s.LastSeq = info.Seq
		s.LastKind = info.Kind()
		if r.skip {
			s.Skipped++
		}
		s.P1Name, s.P2Name = p1, p2
		s.Updated = p.now()
	})
}

// checkMonotonic warns when a score goes down within one game.
func (p *Pipeline) checkMonotonic(ctx context.Context, before game.Snapshot, info vision.FrameInfo) {
	dec := func(last, cur vision.Score) bool { return last.Valid && cur.Valid && cur.Value < last.Value }
	if !dec(before.LastP1, info.P1Score) && !dec(before.LastP2, info.P2Score) {
		return
	}
	trace.Logger(ctx).Warn("score decreased during game",
		"p1", before.LastP1.String()+"->"+info.P1Score.String(),
		"p2", before.LastP2.String()+"->"+info.P2Score.String())
	p.metrics.Warning(p.name, WarnScoreDecreased)
	p.journal.Add(journal.Event{
		Kind:    journal.KindWarning,
		Source:  p.name,
		Message: WarnScoreDecreased,
		Data:    TransitionData{From: game.Game, To: game.Game, Seq: info.Seq, P1Score: info.P1Score, P2Score: info.P2Score, GameID: p.gameID},
	})
}

func (p *Pipeline) transition(ctx context.Context, old, next game.State, info vision.FrameInfo) {
	log := trace.Logger(ctx)
	p.metrics.State(p.name, next)

	if next == game.Game {
		p.gameID = uuid.NewString()
		p.gameStart = p.now()
		p.roster.Start()
		ctx = trace.WithGame(ctx, p.gameID)
		log = trace.Logger(ctx)
	}

	log.Info("state changed", "from", old, "to", next, "info", info)
	p.journal.Add(journal.Event{
		Kind:   journal.KindTransition,
		Source: p.name,
		Data:   TransitionData{From: old, To: next, Seq: info.Seq, P1Score: info.P1Score, P2Score: info.P2Score, GameID: p.gameID},
	})

	switch {
	case next == game.GameOver:
		p.gameOver(ctx, info)
	case old == game.Game:
		p.abandon(ctx, "left game without a finish")
	}
}

// gameOver hands a valid game to the finisher or discards it, then
// acknowledges so the machine waits for the next game in MENU.
func (p *Pipeline) gameOver(ctx context.Context, info vision.FrameInfo) {
	log := trace.Logger(ctx)
	snap := p.sm.Snapshot()
	p1Name, p2Name := p.roster.Names()

	g := Game{
		ID:        p.gameID,
		Source:    p.name,
		StartedAt: p.gameStart,
		EndedAt:   p.now(),
		P1Name:    p1Name,
		P2Name:    p2Name,
		P1Score:   snap.FinalP1,
		P2Score:   snap.FinalP2,
	}

	switch {
	case !snap.VideoReady:
		log.Info("discarding game", "reason", "not watched from the start", "p1", snap.FinalP1, "p2", snap.FinalP2)
		p.discard(ctx, "game not watched from the start")
	case p.arc == nil:
		p.handOff(ctx, g)
	default:
		dir, n, err := p.arc.Seal(ctx)
		if err != nil {
			log.Error("seal archive failed", "error", err)
			p.metrics.Game(p.name, metrics.OutcomeFailed)
			p.journal.Add(journal.Event{Kind: journal.KindWarning, Source: p.name, Message: WarnArchive, Data: g})
			break
		}
		g.FramesDir, g.Frames = dir, n
		p.handOff(ctx, g)
	}

	p.roster.Clear()
	p.sm.AcknowledgeGameOver()
	p.gameID = ""
	p.metrics.State(p.name, p.sm.State())
	p.journal.Add(journal.Event{
		Kind:   journal.KindTransition,
		Source: p.name,
		Data:   TransitionData{From: game.GameOver, To: p.sm.State(), Seq: info.Seq},
	})
}

// handOff delivers g in the background with its own deadline. Old games
// are pruned once no delivery is left reading a sealed directory.
func (p *Pipeline) handOff(ctx context.Context, g Game) {
	if p.fin == nil {
		p.finished(ctx, g, nil)
		p.cleanup(ctx)
		return
	}

	p.finishWG.Add(1)
	p.delivering.Add(1)
	go func() {
		defer p.finishWG.Done()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.FinishTimeout)
		defer cancel()
		fctx, span := trace.StartSpan(fctx, "game_finish")
		defer span.End()
		done, err := p.fin.Finish(fctx, g)
		p.finished(fctx, done, err)
		if p.delivering.Add(-1) == 0 {
			p.cleanup(fctx)
		}
	}()
}

// cleanup keeps the newest KeepGames sealed games.
func (p *Pipeline) cleanup(ctx context.Context) {
	if p.arc == nil {
		return
	}
	if removed, err := p.arc.Cleanup(ctx, p.opts.KeepGames); err != nil {
		trace.Logger(ctx).Warn("archive cleanup failed", "error", err)
	} else if len(removed) > 0 {
		trace.Logger(ctx).Debug("old games removed", "count", len(removed))
	}
}

func (p *Pipeline) finished(ctx context.Context, g Game, err error) {
	log := trace.Logger(ctx)
	ev := journal.Event{Kind: journal.KindGameFinished, Source: p.name, Data: g}
	if err != nil {
		log.Error("game delivery failed", "error", err, "dir", g.FramesDir)
		p.metrics.Game(p.name, metrics.OutcomeFailed)
		p.metrics.Warning(p.name, WarnFinish)
		ev.Message = err.Error()
	} else {
		log.Info("game recorded", "p1", g.P1Score, "p2", g.P2Score, "frames", g.Frames)
		p.metrics.Game(p.name, metrics.OutcomeRecorded)
	}
	p.journal.Add(ev)
}

// discard drops the archived frames of the current game.
func (p *Pipeline) discard(ctx context.Context, reason string) {
	if p.arc != nil {
		if err := p.arc.Discard(ctx); err != nil {
			trace.Logger(ctx).Warn("discard archive failed", "error", err)
		}
	}
	p.metrics.Game(p.name, metrics.OutcomeDiscarded)
	p.journal.Add(journal.Event{Kind: journal.KindGameDiscarded, Source: p.name, Message: reason, Data: map[string]string{"game_id": p.gameID}})
}

// abandon ends a game that will not produce a video.
func (p *Pipeline) abandon(ctx context.Context, reason string) {
	trace.Logger(ctx).Info("recording abandoned", "reason", reason)
	p.discard(ctx, reason)
	p.roster.Clear()
	p.gameID = ""
}

func (p *Pipeline) reset(ctx context.Context) {
	if p.sm.State() == game.Game {
		p.abandon(ctx, "reset")
	} else {
		p.roster.Clear()
	}
	old := p.sm.State()
	p.sm.Reset()
	p.gameID = ""
	p.metrics.State(p.name, p.sm.State())
	p.journal.Add(journal.Event{Kind: journal.KindTransition, Source: p.name, Message: "reset",
		Data: TransitionData{From: old, To: p.sm.State()}})

	snap := p.sm.Snapshot()
	p1, p2 := p.roster.Names()
	p.status.Write(func(s *Status) {
		s.Game, s.GameID = snap, ""
		s.P1Name, s.P2Name = p1, p2
		s.Updated = p.now()
	})
	trace.Logger(ctx).Info("pipeline reset")
}
