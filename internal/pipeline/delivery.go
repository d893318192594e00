package pipeline

import (
	"context"

	"github.com/GriffinCanCode/tetris-recorder/internal/notify"
	"github.com/GriffinCanCode/tetris-recorder/internal/resilience"
	"github.com/GriffinCanCode/tetris-recorder/internal/store"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

// VideoCompiler encodes an archived game.
type VideoCompiler interface {
	Compile(ctx context.Context, framesDir string) (string, error)
}

// GameStore persists finished games.
type GameStore interface {
	SaveGame(ctx context.Context, rec store.GameRecord) error
	MarkDelivered(ctx context.Context, id string) error
}

// Delivery compiles the video of a finished game, records it and notifies.
// Any collaborator may be nil.
type Delivery struct {
	compiler VideoCompiler
	store    GameStore
	notifier notify.Notifier
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
}

// NewDelivery creates a Delivery. Store writes are retried behind breaker.
func NewDelivery(compiler VideoCompiler, gs GameStore, n notify.Notifier, breaker *resilience.Breaker) *Delivery {
	if breaker == nil {
		breaker = resilience.New(resilience.StoreConfig("store"))
	}
	return &Delivery{compiler: compiler, store: gs, notifier: n, breaker: breaker, retry: resilience.DefaultRetryConfig()}
}

// Finish implements Finisher. A failed compile ends delivery; store and
// notify failures are reported after the remaining steps ran.
func (d *Delivery) Finish(ctx context.Context, g Game) (Game, error) {
	ctx = trace.WithGame(ctx, g.ID)
	log := trace.Logger(ctx)

	if d.compiler != nil && g.FramesDir != "" {
		path, err := d.compiler.Compile(ctx, g.FramesDir)
		if err != nil {
			return g, err
		}
		g.VideoPath = path
	}

	rec := store.GameRecord{
		ID:        g.ID,
		Source:    g.Source,
		StartedAt: g.StartedAt,
		EndedAt:   g.EndedAt,
		P1Name:    g.P1Name,
		P2Name:    g.P2Name,
		P1Score:   g.P1Score.Value,
		P2Score:   g.P2Score.Value,
		Frames:    g.Frames,
		FramesDir: g.FramesDir,
		VideoPath: g.VideoPath,
	}
	saved := false
	var storeErr error
	if d.store != nil {
		storeErr = d.withStore(ctx, func(ctx context.Context) error { return d.store.SaveGame(ctx, rec) })
		if storeErr != nil {
			log.Error("save game failed", "error", storeErr)
		} else {
			saved = true
		}
	}

	if d.notifier == nil || g.VideoPath == "" {
		return g, storeErr
	}
	err := d.notifier.Notify(ctx, notify.Result{
		GameID:    g.ID,
		Source:    g.Source,
		P1Name:    g.P1Name,
		P2Name:    g.P2Name,
		P1Score:   g.P1Score.Value,
		P2Score:   g.P2Score.Value,
		VideoPath: g.VideoPath,
		EndedAt:   g.EndedAt,
	})
	if err != nil {
		return g, err
	}
	if saved {
		if err := d.withStore(ctx, func(ctx context.Context) error { return d.store.MarkDelivered(ctx, g.ID) }); err != nil {
			log.Warn("mark delivered failed", "error", err)
		}
	}
	return g, storeErr
}

func (d *Delivery) withStore(ctx context.Context, fn func(context.Context) error) error {
	return resilience.Retry(ctx, d.retry, func(ctx context.Context) error {
		return d.breaker.Execute(ctx, fn)
	})
}
