// Recorder - watches arcade video feeds, records finished two-player games and
// publishes them
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/tetris-recorder/internal/config"
	"github.com/GriffinCanCode/tetris-recorder/internal/health"
	"github.com/GriffinCanCode/tetris-recorder/internal/metrics"
	"github.com/GriffinCanCode/tetris-recorder/internal/notify"
	"github.com/GriffinCanCode/tetris-recorder/internal/pipeline"
	"github.com/GriffinCanCode/tetris-recorder/internal/resilience"
	"github.com/GriffinCanCode/tetris-recorder/internal/server"
	"github.com/GriffinCanCode/tetris-recorder/internal/store"
	"github.com/GriffinCanCode/tetris-recorder/internal/vision"
	"github.com/GriffinCanCode/tetris-recorder/internal/video"
)

func main() {
	if err := run(); err != nil {
		slog.Error("recorder failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	heuristics, err := config.LoadHeuristics(cfg.HeuristicsFile)
	if err != nil {
		return err
	}
	refs, err := vision.LoadReferences(cfg.DigitsDir, heuristics.Config())
	if err != nil {
		return err
	}

	m := metrics.New()

	games, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	// left open when deliveries outlive the shutdown deadline
	keepStore := false
	defer func() {
		if !keepStore {
			_ = games.Close()
		}
	}()

	storeBreaker := resilience.New(resilience.StoreConfig("store")).WithHook(m.BreakerHook())
	delivery := pipeline.NewDelivery(video.NewCompiler(cfg.FFmpeg, cfg.VideoFPS, cfg.VideosDir()), games, newNotifier(cfg, m), storeBreaker)

	var hs *health.Server
	mgr, err := pipeline.NewManager(cfg, pipeline.ManagerDeps{
		References: refs,
		Heuristics: heuristics.Config(),
		Finisher:   delivery,
		Metrics:    m,
		OnRunning:  func(source string, running bool) { hs.SetRunning(source, running) },
	})
	if err != nil {
		refs.Close()
		return err
	}
	hs = health.New(mgr.Sources()...)

	go heuristics.Watch(ctx, mgr.SetHeuristics)
	go func() {
		if err := mgr.WatchReferences(ctx, cfg.DigitsDir); err != nil {
			slog.Warn("digit directory not watched", "dir", cfg.DigitsDir, "error", err)
		}
	}()

	mgr.Start(ctx)

	// Start HTTP server
	srv := server.New(mgr, games, m.Handler())
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("recorder starting", "http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "sources", mgr.Sources())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()
	go func() {
		if err := hs.ListenAndServe(ctx, cfg.GRPCAddr); err != nil {
			slog.Error("health server error", "error", err)
		}
	}()

	// Wait for shutdown signal or every source to end
	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
		slog.Info("all sources ended")
	}

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	hs.Shutdown()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		keepStore = true
		slog.Warn("pipelines still delivering at shutdown deadline", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

// newNotifier publishes through Telegram when configured, else only logs.
func newNotifier(cfg *config.Config, m *metrics.Metrics) notify.Notifier {
	if !cfg.NotifyConfigured() {
		return notify.Log{}
	}
	tg := notify.NewTelegram(notify.DefaultTelegramAPI, cfg.TelegramToken, cfg.TelegramChat, &http.Client{Timeout: cfg.NotifyTimeout})
	breaker := resilience.New(resilience.DeliveryConfig("telegram")).WithHook(m.BreakerHook())
	return notify.Multi{notify.Log{}, notify.NewGuarded(tg, breaker, resilience.DeliveryRetryConfig())}
}
