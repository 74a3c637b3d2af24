package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/broker/sim"
	"github.com/alanyoungcy/imbalancebot/internal/candle"
	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/executor"
	"github.com/alanyoungcy/imbalancebot/internal/obs"
	"github.com/alanyoungcy/imbalancebot/internal/service"
	"github.com/alanyoungcy/imbalancebot/internal/strategy"
)

// Config describes one replay run.
type Config struct {
	Feed FeedConfig
	// BarInterval aggregates snapshots into bars of this length. Zero
	// relies on bar records in the input.
	BarInterval     time.Duration
	FillEmpty       bool
	StartingBalance decimal.Decimal
	FeeBps          decimal.Decimal
	Limits          domain.RiskLimits
	Orchestrator    executor.Config
}

// Report is the result of a replay run.
type Report struct {
	ID       string           `json:"id"`
	Symbols  []string         `json:"symbols,omitempty"`
	Stats    Stats            `json:"stats"`
	Metrics  Metrics          `json:"metrics"`
	Strategy strategy.Stats   `json:"strategy"`
	Outcome  executor.Outcome `json:"outcome"`
	Halted   bool             `json:"halted"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished"`
}

// StatsProvider is implemented by strategies that expose counters.
type StatsProvider interface {
	Stats() strategy.Stats
}

// Engine runs the orchestrator over recorded data with a simulated broker
// and an event-time clock.
type Engine struct {
	cfg     Config
	src     Source
	strat   strategy.Strategy
	audit   domain.AuditSink
	metrics *obs.Metrics
	clock   Clock
	logger  *slog.Logger

	mu   sync.Mutex
	orch *executor.Orchestrator
}

// NewEngine creates an engine. The strategy must be fresh for each run.
func NewEngine(cfg Config, src Source, strat strategy.Strategy, audit domain.AuditSink, metrics *obs.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		src:     src,
		strat:   strat,
		audit:   audit,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "replay")),
	}
}

// WithClock sets the pacing clock.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// Stop requests a graceful stop of a running replay.
func (e *Engine) Stop() {
	e.mu.Lock()
	orch := e.orch
	e.mu.Unlock()
	if orch != nil {
		orch.Stop()
	}
}

// Orchestrator returns the orchestrator of the current run, or nil.
func (e *Engine) Orchestrator() *executor.Orchestrator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orch
}

// Run replays the source to completion. A kill switch trip aborts the run
// exactly as in live trading: the report is still returned with Halted set,
// together with an error matching domain.ErrEmergencyShutdown.
func (e *Engine) Run(ctx context.Context, runID string) (Report, error) {
	rep := Report{ID: runID, Symbols: e.cfg.Feed.Symbols, Started: time.Now().UTC()}

	broker := sim.New(sim.Config{StartingBalance: e.cfg.StartingBalance, FeeBps: e.cfg.FeeBps}, e.logger)
	rf := NewFeed(e.cfg.Feed, e.src, broker, e.logger).WithClock(e.clock)
	if err := rf.Prepare(ctx); err != nil {
		return rep, fmt.Errorf("replay: %w", err)
	}

	var src domain.Feed = rf
	var adapter *candle.FeedAdapter
	if e.cfg.BarInterval > 0 {
		adapter = candle.NewFeedAdapter(rf, candle.NewAggregator(e.cfg.BarInterval, e.cfg.FillEmpty), e.logger)
		src = adapter
	}

	clock := domain.NewEventClock(e.cfg.Feed.Start)
	risk := service.NewRiskManager(e.cfg.Limits, clock, e.logger)
	orch := executor.NewOrchestrator(e.cfg.Orchestrator, executor.Deps{
		Feed:     src,
		Broker:   broker,
		Strategy: e.strat,
		Risk:     risk,
		Audit:    e.audit,
		Clock:    clock,
		Metrics:  e.metrics,
		Logger:   e.logger,
	})
	e.mu.Lock()
	e.orch = orch
	e.mu.Unlock()

	e.logger.Info("replay started",
		slog.String("run_id", runID),
		slog.Time("start", e.cfg.Feed.Start),
		slog.Time("end", e.cfg.Feed.End),
		slog.Float64("speed", e.cfg.Feed.Speed),
	)
	out, runErr := orch.Run(ctx)

	rep.Outcome = out
	rep.Halted = errors.Is(runErr, domain.ErrEmergencyShutdown)
	rep.Stats = rf.Stats()
	if adapter != nil {
		rep.Stats.DataQuality = adapter.DataQualityErrors()
	}
	rep.Metrics = ComputeMetrics(broker.Fills(), e.cfg.StartingBalance).WithUnrealized(broker.UnrealizedPnL())
	if sp, ok := e.strat.(StatsProvider); ok {
		rep.Strategy = sp.Stats()
	}
	rep.Finished = time.Now().UTC()

	e.logger.Info("replay finished",
		slog.String("run_id", runID),
		slog.Bool("halted", rep.Halted),
		slog.Int64("events", out.EventsProcessed),
		slog.Int("trades", rep.Metrics.Trades),
		slog.String("total_pnl", rep.Metrics.TotalPnL.String()),
		slog.String("final_equity", rep.Metrics.FinalEquity.String()),
		slog.Int64("malformed", rep.Stats.Malformed),
		slog.Int64("out_of_order", rep.Stats.OutOfOrder),
	)
	if runErr != nil {
		return rep, fmt.Errorf("replay: %w", runErr)
	}
	return rep, nil
}
