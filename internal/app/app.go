// Package app wires the engine together and runs it in the configured mode:
// live trading, paper trading against the simulated broker, or a backtest
// over recorded data.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/imbalancebot/internal/config"
	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// App owns the configuration, logger, and cleanup functions run in reverse
// order on Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	broker  domain.Broker
	closers []func()
}

// Option customises an App.
type Option func(*App)

// WithBroker sets the exchange broker used by live mode.
func WithBroker(b domain.Broker) Option {
	return func(a *App) { a.broker = b }
}

func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run wires dependencies and blocks in the selected mode until it finishes
// or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case ModeLive:
		return a.LiveMode(ctx, deps)
	case ModePaper:
		return a.PaperMode(ctx, deps)
	case ModeBacktest:
		_, err := a.BacktestMode(ctx, deps)
		return err
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close is safe to call more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
