// Package app provides the top-level application lifecycle for the trading
// bot. It wires the exchange client, stream supervisor, trade worker,
// notifications and optional Redis backends, then runs the goroutines the
// configured mode needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/upbitbot/internal/config"
	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/metrics"
	"github.com/alanyoungcy/upbitbot/internal/server"
	"github.com/alanyoungcy/upbitbot/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the goroutines of the configured mode
// and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Any("markets", a.cfg.MarketList()),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Worker.Run(ctx) })
	g.Go(func() error { return deps.Log.RunForwarder(ctx) })

	if deps.Mirror != nil {
		g.Go(func() error { return deps.Mirror.Run(ctx) })
	}

	if a.cfg.ServesHTTP() {
		g.Go(func() error { return deps.Hub.Run(ctx) })
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:   handler.NewHealthHandler(a.cfg.Mode),
			Auto:     handler.NewAutoHandler(deps.Supervisor, a.cfg.MarketList(), a.logger),
			Accounts: handler.NewAccountHandler(deps.Client, a.cfg.MarketList(), a.logger),
			Hub:      deps.Hub,
			Metrics:  metrics.Handler(),
		}, a.logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if a.cfg.StartsStream() {
		g.Go(func() error {
			a.startStream(ctx, deps)
			return nil
		})
	}

	// The stream is not a group member; stop it once everything winds down.
	g.Go(func() error {
		<-ctx.Done()
		deps.Supervisor.Stop()
		return nil
	})

	return g.Wait()
}

// startStream starts the supervisor, retrying the first dial with the stream
// backoff until it succeeds or ctx ends.
func (a *App) startStream(ctx context.Context, deps *Dependencies) {
	markets := a.cfg.MarketList()
	delay := a.cfg.Stream.ReconnectDelay.Duration
	for {
		err := deps.Supervisor.Start(ctx, markets)
		if err == nil || errors.Is(err, domain.ErrAlreadyRunning) {
			return
		}
		a.logger.WarnContext(ctx, "stream start failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if max := a.cfg.Stream.MaxReconnectDelay.Duration; delay > max {
			delay = max
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
