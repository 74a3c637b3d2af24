package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/imbalancebot/internal/audit"
	"github.com/alanyoungcy/imbalancebot/internal/broker/sim"
	"github.com/alanyoungcy/imbalancebot/internal/cache/redis"
	"github.com/alanyoungcy/imbalancebot/internal/candle"
	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/executor"
	"github.com/alanyoungcy/imbalancebot/internal/feed"
	"github.com/alanyoungcy/imbalancebot/internal/replay"
	"github.com/alanyoungcy/imbalancebot/internal/server"
	"github.com/alanyoungcy/imbalancebot/internal/server/handler"
	"github.com/alanyoungcy/imbalancebot/internal/service"
	"github.com/alanyoungcy/imbalancebot/internal/store/postgres"
	"github.com/alanyoungcy/imbalancebot/internal/strategy"
)

// Operating modes.
const (
	ModeLive     = "live"
	ModePaper    = "paper"
	ModeBacktest = "backtest"
)

// ErrNoBroker is returned by live mode when no exchange broker was injected
// with WithBroker.
var ErrNoBroker = errors.New("app: live mode needs an exchange broker")

const serverShutdownTimeout = 10 * time.Second

// LiveMode trades the websocket feed through the injected broker.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	if a.broker == nil {
		return ErrNoBroker
	}
	return a.runLoop(ctx, deps, a.broker, a.liveFeed())
}

// PaperMode trades the websocket feed against the simulated broker, marked
// from the same feed.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	broker := sim.New(sim.Config{
		StartingBalance: a.cfg.Paper.StartingBalance,
		FeeBps:          a.cfg.Paper.FeeBps,
	}, a.logger)
	return a.runLoop(ctx, deps, broker, sim.NewMarkingFeed(a.liveFeed(), broker))
}

func (a *App) liveFeed() domain.Feed {
	var f domain.Feed = feed.NewWSFeed(a.cfg.Feed.URL, a.cfg.Instrument.Symbols, a.logger)
	if iv := a.cfg.LiveBarInterval(); iv > 0 {
		f = candle.NewFeedAdapter(f, candle.NewAggregator(iv, false), a.logger)
	}
	return f
}

// runLoop runs one orchestrator until the feed ends or ctx is cancelled,
// with the HTTP server alongside when enabled.
func (a *App) runLoop(ctx context.Context, deps *Dependencies, broker domain.Broker, src domain.Feed) error {
	runID := uuid.NewString()
	logger := a.logger.With(slog.String("run_id", runID))

	unlock, err := a.lockInstruments(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	sink, store, err := a.buildAudit(deps, runID)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("audit close failed", slog.String("error", err.Error()))
		}
	}()

	risk := service.NewRiskManager(a.riskLimits(), domain.SystemClock{}, a.logger)
	orch := executor.NewOrchestrator(a.executorConfig(), executor.Deps{
		Feed:     src,
		Broker:   broker,
		Strategy: strategy.NewImbalanceTrend(a.strategyConfig(), a.logger),
		Risk:     risk,
		Audit:    sink,
		Clock:    domain.SystemClock{},
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
		Logger:   a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error {
		defer cancelRun()
		out, err := orch.Run(runCtx)
		logger.Info("orchestrator finished",
			slog.String("shutdown", out.Mode),
			slog.String("reason", out.Reason),
			slog.Int64("events", out.EventsProcessed),
			slog.String("balance", out.Balance.String()),
		)
		return err
	})

	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, orch, risk, store, runID)
		g.Go(srv.Start)
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *App) newServer(deps *Dependencies, orch *executor.Orchestrator, risk *service.RiskManager, store domain.AuditStore, runID string) *server.Server {
	h := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Probes, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, orch, risk, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if store != nil {
		h.Audit = handler.NewAuditHandler(store)
	}
	if a.cfg.Audit.RedisStream != "" && deps.SignalBus != nil {
		h.Stream = handler.NewStreamHandler(deps.SignalBus, a.auditStreamKey(runID), redis.SignalsChannel, a.logger)
	}
	if deps.ReplayRuns != nil {
		h.Replay = handler.NewReplayHandler(deps.ReplayRuns)
	}
	return server.NewServer(server.Config{
		Addr:        ":" + strconv.Itoa(a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, h, a.logger)
}

// BacktestMode replays recorded data and publishes the report.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) (replay.Report, error) {
	runID := uuid.NewString()

	src, err := a.replaySource(deps)
	if err != nil {
		return replay.Report{}, err
	}
	sink, _, err := a.buildAudit(deps, runID)
	if err != nil {
		return replay.Report{}, err
	}

	engine := replay.NewEngine(replay.Config{
		Feed: replay.FeedConfig{
			Start:          a.cfg.Replay.Start.Time,
			End:            a.cfg.Replay.End.Time,
			Symbols:        a.cfg.Instrument.Symbols,
			Speed:          a.cfg.Replay.Speed,
			ImbalanceDepth: a.cfg.Strategy.Depth,
		},
		BarInterval:     a.cfg.ReplayBarInterval(),
		FillEmpty:       a.cfg.Replay.FillEmpty,
		StartingBalance: a.cfg.Replay.StartingBalance,
		FeeBps:          a.cfg.Replay.FeeBps,
		Limits:          a.riskLimits(),
		Orchestrator:    a.executorConfig(),
	}, src, strategy.NewImbalanceTrend(a.strategyConfig(), a.logger), sink, deps.Metrics, a.logger)

	rep, runErr := engine.Run(ctx, runID)
	if err := sink.Close(); err != nil {
		a.logger.Error("audit close failed", slog.String("error", err.Error()))
	}
	if runErr != nil && !rep.Halted {
		return rep, runErr
	}
	if err := a.publishReport(ctx, deps, rep); err != nil {
		return rep, errors.Join(runErr, err)
	}
	return rep, runErr
}

func (a *App) replaySource(deps *Dependencies) (replay.Source, error) {
	if a.cfg.Replay.Dir != "" {
		return replay.DirSource{Dir: a.cfg.Replay.Dir}, nil
	}
	if deps.BlobReader == nil {
		return nil, fmt.Errorf("app: replay.s3_prefix set but s3 is not enabled")
	}
	return replay.BlobSource{Reader: deps.BlobReader, Prefix: a.cfg.Replay.S3Prefix}, nil
}

// publishReport writes the report to every configured destination. The
// first failure is returned after the rest have been tried.
func (a *App) publishReport(ctx context.Context, deps *Dependencies, rep replay.Report) error {
	var errs []error
	if dir := a.cfg.Replay.ReportDir; dir != "" {
		path, err := writeReportFile(dir, rep)
		if err != nil {
			errs = append(errs, err)
		} else {
			a.logger.Info("replay report written", slog.String("path", path))
		}
	}
	if deps.Archiver != nil {
		key, err := deps.Archiver.PutReport(ctx, rep.ID, rep)
		if err != nil {
			errs = append(errs, err)
		} else {
			a.logger.Info("replay report archived", slog.String("key", key))
		}
	}
	if deps.ReplayRuns != nil {
		run, err := replayRun(rep)
		if err == nil {
			err = deps.ReplayRuns.Save(ctx, run)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("app: save replay run: %w", err))
		}
	}
	return errors.Join(errs...)
}

func writeReportFile(dir string, rep replay.Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("app: report dir: %w", err)
	}
	buf, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("app: marshal report: %w", err)
	}
	path := filepath.Join(dir, rep.ID+".json")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("app: write report: %w", err)
	}
	return path, nil
}

func replayRun(rep replay.Report) (domain.ReplayRun, error) {
	buf, err := json.Marshal(rep)
	if err != nil {
		return domain.ReplayRun{}, err
	}
	var body map[string]any
	if err := json.Unmarshal(buf, &body); err != nil {
		return domain.ReplayRun{}, err
	}
	return domain.ReplayRun{
		ID:         rep.ID,
		Symbols:    rep.Symbols,
		StartedAt:  rep.Started,
		FinishedAt: rep.Finished,
		Halted:     rep.Halted,
		Report:     body,
	}, nil
}

// buildAudit returns the JSONL file sink for runID with the configured
// mirrors. The returned store is non-nil when the Postgres mirror is on.
func (a *App) buildAudit(deps *Dependencies, runID string) (domain.AuditSink, domain.AuditStore, error) {
	var onRotate audit.RotateFunc
	if a.cfg.Audit.ArchiveS3 && deps.Archiver != nil {
		onRotate = deps.Archiver.OnRotate
	}
	primary, err := audit.NewFileSink(filepath.Join(a.cfg.Audit.Dir, runID), onRotate, a.logger)
	if err != nil {
		return nil, nil, err
	}

	var (
		mirrors []domain.AuditSink
		store   domain.AuditStore
	)
	if a.cfg.Audit.Postgres && deps.Postgres != nil {
		pg := postgres.NewAuditStore(deps.Postgres.Pool(), runID)
		mirrors = append(mirrors, pg)
		store = pg
	}
	if a.cfg.Audit.RedisStream != "" && deps.SignalBus != nil {
		mirrors = append(mirrors, redis.NewAuditStream(deps.SignalBus, a.auditStreamKey(runID)))
	}
	return audit.NewMulti(primary, a.logger, mirrors...), store, nil
}

// auditStreamKey names the Redis stream that mirrors runID's audit log.
func (a *App) auditStreamKey(runID string) string {
	return a.cfg.Audit.RedisStream + ":" + runID
}

// lockInstruments takes one Redis lock per symbol so that a single process
// trades each instrument. Without Redis it is a no-op.
func (a *App) lockInstruments(ctx context.Context, deps *Dependencies) (func(), error) {
	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	if deps.Locks == nil {
		return release, nil
	}
	for _, sym := range a.cfg.Instrument.Symbols {
		unlock, err := deps.Locks.Acquire(ctx, redis.InstrumentKey(sym), a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			release()
			return nil, fmt.Errorf("app: lock %s: %w", sym, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func (a *App) strategyConfig() strategy.Config {
	s := a.cfg.Strategy
	return strategy.Config{
		Depth:              s.Depth,
		UpperThreshold:     s.UpperThreshold,
		LowerThreshold:     s.LowerThreshold,
		FastPeriod:         s.FastPeriod,
		SlowPeriod:         s.SlowPeriod,
		OrderQuantity:      s.OrderQuantity,
		StopLossFraction:   s.StopLossFraction,
		TakeProfitFraction: s.TakeProfitFraction,
		MaxHold:            s.MaxHold.Duration,
	}
}

func (a *App) riskLimits() domain.RiskLimits {
	r := a.cfg.Risk
	return domain.RiskLimits{
		MaxPositionUSD:            r.MaxPositionUSD,
		MaxTotalExposureUSD:       r.MaxTotalExposureUSD,
		MaxDailyLossUSD:           r.MaxDailyLossUSD,
		MaxTradesPerDay:           r.MaxTradesPerDay,
		MaxLeverage:               r.MaxLeverage,
		LiquidationBufferFraction: r.LiquidationBufferFraction,
		Leverage:                  r.Leverage,
		MaintenanceMarginRate:     r.MaintenanceMarginRate,
	}
}

func (a *App) executorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.ReconnectBackoff = a.cfg.Feed.ReconnectBackoff.Duration
	cfg.CloseRetries = a.cfg.Executor.CloseRetries
	cfg.CloseRetryDelay = a.cfg.Executor.CloseRetryDelay.Duration
	cfg.ShutdownTimeout = a.cfg.Executor.ShutdownTimeout.Duration
	cfg.AuditBookEvents = a.cfg.Audit.BookEvents
	return cfg
}
