// Package notify delivers finished games to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/tetris-recorder/internal/resilience"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

// Result describes a finished game ready for delivery.
type Result struct {
	GameID    string
	Source    string
	P1Name    string
	P2Name    string
	P1Score   int
	P2Score   int
	VideoPath string
	EndedAt   time.Time
}

// Caption renders the message sent with the video.
func (r Result) Caption() string {
	p1, p2 := r.P1Name, r.P2Name
	if p1 == "" {
		p1 = "P1"
	}
	if p2 == "" {
		p2 = "P2"
	}
	return fmt.Sprintf("Game Over!\n%s: %d | %s: %d", p1, r.P1Score, p2, r.P2Score)
}

// Notifier delivers a Result.
type Notifier interface {
	Notify(ctx context.Context, r Result) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, r Result) error

func (f Func) Notify(ctx context.Context, r Result) error { return f(ctx, r) }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Result) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes results to the log instead of delivering them.
type Log struct{}

func (Log) Notify(ctx context.Context, r Result) error {
	trace.Logger(ctx).Info("game result", "game_id", r.GameID, "caption", r.Caption(), "video", r.VideoPath)
	return nil
}

// Guarded protects a notifier with a circuit breaker and retries transient
// failures with backoff, honouring server requested delays.
type Guarded struct {
	next    Notifier
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

// NewGuarded wraps next.
func NewGuarded(next Notifier, breaker *resilience.Breaker, retry resilience.RetryConfig) *Guarded {
	return &Guarded{next: next, breaker: breaker, retry: retry}
}

func (g *Guarded) Notify(ctx context.Context, r Result) error {
	return resilience.Retry(ctx, g.retry, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			return g.next.Notify(ctx, r)
		})
	})
}

// Breaker exposes the breaker for status reporting.
func (g *Guarded) Breaker() *resilience.Breaker { return g.breaker }
