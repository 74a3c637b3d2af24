// Package executor runs the event loop that sequences ingestion, signal
// generation, risk checks, order dispatch and audit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/obs"
	"github.com/alanyoungcy/imbalancebot/internal/orderbook"
	"github.com/alanyoungcy/imbalancebot/internal/strategy"
)

// RiskChecker gates signals before they reach the broker.
type RiskChecker interface {
	CheckKillSwitch(acct domain.Account) domain.RiskCheckResult
	CheckAll(sig domain.Signal, positions map[string]domain.Position) domain.RiskCheckResult
	RecordTrade()
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Shutdown modes reported in Outcome.Mode.
const (
	ShutdownGraceful  = "graceful"
	ShutdownEmergency = "emergency"
)

// Config tunes the orchestrator.
type Config struct {
	// ReconnectBackoff is the fixed wait between feed reconnect attempts.
	ReconnectBackoff time.Duration
	// CloseRetries is the number of CloseAll attempts per position during an
	// emergency shutdown.
	CloseRetries    int
	CloseRetryDelay time.Duration
	// ShutdownTimeout bounds the broker and audit calls made while shutting
	// down.
	ShutdownTimeout time.Duration
	// AuditBookEvents records a book_received entry for every depth event.
	AuditBookEvents bool
	// DedupTTL is how long bar keys are remembered for duplicate detection.
	DedupTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectBackoff: 5 * time.Second,
		CloseRetries:     3,
		CloseRetryDelay:  500 * time.Millisecond,
		ShutdownTimeout:  30 * time.Second,
		DedupTTL:         24 * time.Hour,
		AuditBookEvents:  true,
	}
}

// Deps are the collaborators of an Orchestrator. Notifier and Metrics are
// optional.
type Deps struct {
	Feed     domain.Feed
	Broker   domain.Broker
	Strategy strategy.Strategy
	Risk     RiskChecker
	Audit    domain.AuditSink
	Clock    domain.Clock
	Notifier Notifier
	Metrics  *obs.Metrics
	Logger   *slog.Logger
}

// Outcome summarises how a run ended.
type Outcome struct {
	Mode            string                     `json:"mode"`
	Reason          string                     `json:"reason"`
	EventsProcessed int64                      `json:"events_processed"`
	Balance         decimal.Decimal            `json:"balance"`
	Positions       map[string]domain.Position `json:"positions,omitempty"`
	PositionsClosed int                        `json:"positions_closed"`
	PositionsFailed int                        `json:"positions_failed"`
}

// Status is a point-in-time view for status APIs.
type Status struct {
	State           string    `json:"state"`
	EventsProcessed int64     `json:"events_processed"`
	SignalsEmitted  int64     `json:"signals_emitted"`
	OrdersPlaced    int64     `json:"orders_placed"`
	RiskBlocks      int64     `json:"risk_blocks"`
	LastEventTime   time.Time `json:"last_event_time"`
	Reconnects      int64     `json:"reconnects"`
}

// advancer is implemented by clocks that follow event time.
type advancer interface {
	Advance(t time.Time)
}

// Orchestrator processes one market event at a time to completion. All
// book, strategy and risk state is touched only from the Run goroutine.
type Orchestrator struct {
	cfg      Config
	feed     domain.Feed
	broker   domain.Broker
	strat    strategy.Strategy
	risk     RiskChecker
	audit    domain.AuditSink
	clock    domain.Clock
	notifier Notifier
	metrics  *obs.Metrics
	logger   *slog.Logger

	books map[string]*orderbook.Book
	dedup *Dedup
	seq   int64
	// lastBarEnd is the end of the latest bar seen per symbol.
	lastBarEnd map[string]time.Time

	state     atomic.Int32
	stopOnce  sync.Once
	stopCh    chan struct{}
	events    atomic.Int64
	signals   atomic.Int64
	orders    atomic.Int64
	blocks    atomic.Int64
	reconnect atomic.Int64
	lastMu    sync.Mutex
	lastEvent time.Time
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.CloseRetries <= 0 {
		cfg.CloseRetries = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	clock := deps.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Orchestrator{
		cfg:      cfg,
		feed:     deps.Feed,
		broker:   deps.Broker,
		strat:    deps.Strategy,
		risk:     deps.Risk,
		audit:    deps.Audit,
		clock:    clock,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With(slog.String("component", "orchestrator")),
		books:    make(map[string]*orderbook.Book),
		dedup:    NewDedup(cfg.DedupTTL),
		stopCh:   make(chan struct{}),

		lastBarEnd: make(map[string]time.Time),
	}
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Stop requests a graceful stop. It interrupts a blocking feed receive or
// reconnect wait and is safe to call more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(o.stopCh)
	})
}

func (o *Orchestrator) stopRequested() bool {
	select {
	case <-o.stopCh:
		return true
	default:
		return false
	}
}

// Status returns a snapshot of the loop counters.
func (o *Orchestrator) Status() Status {
	o.lastMu.Lock()
	last := o.lastEvent
	o.lastMu.Unlock()
	return Status{
		State:           o.State().String(),
		EventsProcessed: o.events.Load(),
		SignalsEmitted:  o.signals.Load(),
		OrdersPlaced:    o.orders.Load(),
		RiskBlocks:      o.blocks.Load(),
		LastEventTime:   last,
		Reconnects:      o.reconnect.Load(),
	}
}

// Run processes events until the feed ends, a stop is requested, ctx is
// cancelled, or a fatal condition occurs. Graceful endings return a nil
// error. Fatal conditions run the emergency shutdown and return an error
// matching domain.ErrEmergencyShutdown.
func (o *Orchestrator) Run(ctx context.Context) (out Outcome, err error) {
	o.state.Store(int32(StateRunning))
	defer o.state.Store(int32(StateStopped))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out, err = o.emergency(fmt.Errorf("orchestrator panic: %v", r))
		}
	}()

	o.logger.Info("orchestrator started")
	if err := o.feed.Connect(runCtx); err != nil {
		o.logger.Warn("initial feed connect failed", slog.String("error", err.Error()))
		if !o.reconnectLoop(runCtx) {
			return o.graceful(o.stopReason(ctx))
		}
	}

	// An event that has been received runs to completion: stop and
	// cancellation are only observed between events.
	evCtx := context.WithoutCancel(runCtx)
	for {
		if o.stopRequested() || runCtx.Err() != nil {
			return o.graceful(o.stopReason(ctx))
		}

		ev, err := o.feed.Next(runCtx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return o.graceful("end of stream")
			}
			if o.stopRequested() || runCtx.Err() != nil {
				return o.graceful(o.stopReason(ctx))
			}
			o.logger.Warn("feed receive failed", slog.String("error", err.Error()))
			if !o.reconnectLoop(runCtx) {
				return o.graceful(o.stopReason(ctx))
			}
			continue
		}

		if err := o.handle(evCtx, ev); err != nil {
			return o.emergency(err)
		}
	}
}

func (o *Orchestrator) stopReason(parent context.Context) string {
	if parent.Err() != nil {
		return "context cancelled"
	}
	return "stop requested"
}

// reconnectLoop retries Connect with a fixed backoff until it succeeds or
// the loop is stopped. It reports whether the feed is connected.
func (o *Orchestrator) reconnectLoop(ctx context.Context) bool {
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(o.cfg.ReconnectBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		o.reconnect.Add(1)
		o.metrics.Reconnect()
		if err := o.feed.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return false
			}
			o.logger.Warn("feed reconnect failed",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", o.cfg.ReconnectBackoff),
				slog.String("error", err.Error()),
			)
			continue
		}
		o.logger.Info("feed reconnected", slog.Int("attempt", attempt))
		return true
	}
}

// handle processes one event. A non-nil return is fatal for the run.
func (o *Orchestrator) handle(ctx context.Context, ev domain.MarketEvent) error {
	started := time.Now()
	defer func() { o.metrics.Event(string(ev.Kind), time.Since(started)) }()

	if adv, ok := o.clock.(advancer); ok {
		adv.Advance(ev.Time)
	}
	o.events.Add(1)
	o.lastMu.Lock()
	o.lastEvent = ev.Time
	o.lastMu.Unlock()

	switch ev.Kind {
	case domain.EventBar:
		if ev.Bar == nil {
			return o.record(ctx, domain.AuditBarSkipped, ev.Symbol, map[string]any{"reason": "bar event without bar"})
		}
		if err := o.record(ctx, domain.AuditBarReceived, ev.Symbol, barDetail(*ev.Bar)); err != nil {
			return err
		}
	default:
		if o.cfg.AuditBookEvents {
			if err := o.record(ctx, domain.AuditBookReceived, ev.Symbol, map[string]any{
				"kind":    string(ev.Kind),
				"bids":    len(ev.Bids),
				"asks":    len(ev.Asks),
				"updates": len(ev.Updates),
			}); err != nil {
				return err
			}
		}
	}

	acct, err := o.account(ctx)
	if err != nil {
		o.metrics.Error(string(domain.AuditExecutionError))
		return o.record(ctx, domain.AuditExecutionError, ev.Symbol, map[string]any{
			"stage": "account",
			"error": err.Error(),
		})
	}
	o.metrics.Account(acct.Equity().InexactFloat64(), len(acct.Positions))

	if res := o.risk.CheckKillSwitch(acct); !res.Passed {
		o.metrics.KillSwitchTripped()
		return fmt.Errorf("%w: %s", domain.ErrKillSwitch, res.Reason)
	}
	o.strat.SyncPositions(acct.Positions, ev.Time)

	var signals []domain.Signal
	switch ev.Kind {
	case domain.EventBar:
		bar := *ev.Bar
		key := fmt.Sprintf("bar:%s:%d", bar.Symbol, bar.End.UnixNano())
		if o.dedup.IsDuplicate(key, ev.Time) {
			return o.record(ctx, domain.AuditBarSkipped, ev.Symbol, map[string]any{"reason": "duplicate"})
		}
		if o.discontinuous(bar) {
			bar.Gap = true
		}
		if bar.ZeroVolume() {
			return o.record(ctx, domain.AuditBarSkipped, ev.Symbol, map[string]any{"reason": "zero volume"})
		}
		if bar.Gap {
			if err := o.record(ctx, domain.AuditBarWarning, ev.Symbol, map[string]any{
				"reason": "gap before bar",
				"start":  bar.Start,
			}); err != nil {
				return err
			}
		}
		signals, err = o.evaluate(ctx, func(ctx context.Context) ([]domain.Signal, error) {
			return o.strat.OnBar(ctx, bar)
		})
		o.dedup.Cleanup(ev.Time)
	case domain.EventSnapshot, domain.EventUpdate:
		book, applyErr := o.applyBook(ev)
		if applyErr != nil {
			o.metrics.Error(string(domain.AuditBookRejected))
			return o.record(ctx, domain.AuditBookRejected, ev.Symbol, map[string]any{"error": applyErr.Error()})
		}
		signals, err = o.evaluate(ctx, func(ctx context.Context) ([]domain.Signal, error) {
			return o.strat.OnBook(ctx, book, ev.Time)
		})
	default:
		return o.record(ctx, domain.AuditBookRejected, ev.Symbol, map[string]any{"error": fmt.Sprintf("unknown event kind %q", ev.Kind)})
	}
	if err != nil {
		o.metrics.Error(string(domain.AuditStrategyError))
		o.logger.Warn("strategy error", slog.String("symbol", ev.Symbol), slog.String("error", err.Error()))
		return o.record(ctx, domain.AuditStrategyError, ev.Symbol, map[string]any{"error": err.Error()})
	}

	for _, sig := range signals {
		if err := o.process(ctx, sig, ev.Time); err != nil {
			return err
		}
	}
	return nil
}

// discontinuous reports whether bar starts after the end of the previous
// bar for its symbol, and records bar as the latest one.
func (o *Orchestrator) discontinuous(bar domain.Bar) bool {
	last, seen := o.lastBarEnd[bar.Symbol]
	if !seen || bar.End.After(last) {
		o.lastBarEnd[bar.Symbol] = bar.End
	}
	return seen && bar.Start.After(last)
}

// evaluate runs a strategy call, converting panics into errors.
func (o *Orchestrator) evaluate(ctx context.Context, fn func(context.Context) ([]domain.Signal, error)) (sigs []domain.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrStrategy, r)
		}
	}()
	sigs, err = fn(ctx)
	if err != nil && !errors.Is(err, domain.ErrStrategy) {
		err = fmt.Errorf("%w: %w", domain.ErrStrategy, err)
	}
	return sigs, err
}

func (o *Orchestrator) applyBook(ev domain.MarketEvent) (*orderbook.Book, error) {
	book, ok := o.books[ev.Symbol]
	if !ok {
		book = orderbook.New(ev.Symbol)
		o.books[ev.Symbol] = book
	}
	if ev.Kind == domain.EventSnapshot {
		return book, book.ApplySnapshot(ev.Bids, ev.Asks, ev.Time)
	}
	var err error
	for _, u := range ev.Updates {
		err = errors.Join(err, book.ApplyUpdate(u.Side, u.Price, u.Quantity, ev.Time))
	}
	return book, err
}

// process runs one signal through risk and dispatch. Broker failures are
// contained; only audit failures are returned.
func (o *Orchestrator) process(ctx context.Context, sig domain.Signal, ts time.Time) error {
	o.signals.Add(1)
	o.metrics.Signal(string(sig.Side))
	if err := o.record(ctx, domain.AuditSignalGenerated, sig.Symbol, signalDetail(sig)); err != nil {
		return err
	}

	positions, err := o.broker.Positions(ctx)
	if err != nil {
		o.metrics.Error(string(domain.AuditExecutionError))
		return o.record(ctx, domain.AuditExecutionError, sig.Symbol, map[string]any{
			"signal_id": sig.ID,
			"stage":     "positions",
			"error":     err.Error(),
		})
	}

	if res := o.risk.CheckAll(sig, positions); !res.Passed {
		o.blocks.Add(1)
		o.metrics.RiskBlock(res.Check)
		return o.record(ctx, domain.AuditRiskBlock, sig.Symbol, map[string]any{
			"signal_id": sig.ID,
			"check":     res.Check,
			"reason":    res.Reason,
		})
	}

	orderID, err := o.dispatch(ctx, sig)
	if err != nil {
		o.metrics.Order(string(sig.Side), "error")
		o.metrics.Error(string(domain.AuditBrokerError))
		o.logger.Warn("broker call failed",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("side", string(sig.Side)),
			slog.String("error", err.Error()),
		)
		return o.record(ctx, domain.AuditBrokerError, sig.Symbol, map[string]any{
			"signal_id": sig.ID,
			"side":      string(sig.Side),
			"error":     err.Error(),
		})
	}

	o.risk.RecordTrade()
	o.strat.OnExecuted(sig, ts)
	o.orders.Add(1)
	o.metrics.Order(string(sig.Side), "ok")
	o.logger.Info("order placed",
		slog.String("signal_id", sig.ID),
		slog.String("order_id", orderID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
		slog.String("qty", sig.Quantity.String()),
		slog.String("price", sig.Price.String()),
	)
	return o.record(ctx, domain.AuditOrderPlaced, sig.Symbol, map[string]any{
		"signal_id": sig.ID,
		"order_id":  orderID,
		"side":      string(sig.Side),
		"quantity":  sig.Quantity.String(),
		"price":     sig.Price.String(),
	})
}

func (o *Orchestrator) dispatch(ctx context.Context, sig domain.Signal) (string, error) {
	switch sig.Side {
	case domain.SignalBuy:
		return o.broker.Buy(ctx, sig.Symbol, sig.Quantity, sig.StopLoss, sig.TakeProfit)
	case domain.SignalSell:
		return o.broker.Sell(ctx, sig.Symbol, sig.Quantity, sig.StopLoss, sig.TakeProfit)
	case domain.SignalClose:
		if err := o.broker.CloseAll(ctx, sig.Symbol); err != nil {
			return "", err
		}
		return "close_all:" + sig.Symbol, nil
	default:
		return "", fmt.Errorf("%w: unknown signal side %q", domain.ErrExecution, sig.Side)
	}
}

func (o *Orchestrator) account(ctx context.Context) (domain.Account, error) {
	balance, err := o.broker.Balance(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: balance: %w", domain.ErrExecution, err)
	}
	positions, err := o.broker.Positions(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: positions: %w", domain.ErrExecution, err)
	}
	return domain.Account{Balance: balance, Positions: positions}, nil
}

// record appends an audit record. Failure to audit is fatal.
func (o *Orchestrator) record(ctx context.Context, typ domain.AuditType, symbol string, detail map[string]any) error {
	o.seq++
	rec := domain.AuditRecord{
		Seq:    o.seq,
		Type:   typ,
		Time:   o.clock.Now(),
		Symbol: symbol,
		Detail: detail,
	}
	if err := o.audit.Record(ctx, rec); err != nil {
		return fmt.Errorf("executor: audit %s: %w", typ, err)
	}
	return nil
}

func (o *Orchestrator) graceful(reason string) (Outcome, error) {
	o.state.Store(int32(StateStopping))
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownTimeout)
	defer cancel()

	out := Outcome{Mode: ShutdownGraceful, Reason: reason, EventsProcessed: o.events.Load()}
	detail := map[string]any{"reason": reason, "events_processed": out.EventsProcessed}

	if acct, err := o.account(ctx); err != nil {
		o.logger.Error("read final account failed", slog.String("error", err.Error()))
		detail["account_error"] = err.Error()
	} else {
		out.Balance, out.Positions = acct.Balance, acct.Positions
		detail["balance"] = acct.Balance.String()
		detail["open_positions"] = positionList(acct.Positions)
	}

	var auditErr error
	if err := o.record(ctx, domain.AuditShutdown, "", detail); err != nil {
		auditErr = err
		o.logger.Error("record shutdown failed", slog.String("error", err.Error()))
	}
	if err := o.feed.Close(); err != nil {
		o.logger.Warn("feed close failed", slog.String("error", err.Error()))
	}

	o.logger.Info("graceful shutdown",
		slog.String("reason", reason),
		slog.Int64("events", out.EventsProcessed),
		slog.String("balance", out.Balance.String()),
		slog.Int("open_positions", len(out.Positions)),
	)
	o.notify(ctx, "shutdown", "Trading stopped",
		fmt.Sprintf("reason: %s\nbalance: %s\nopen positions: %d", reason, out.Balance.StringFixed(2), len(out.Positions)))
	return out, auditErr
}

// emergency closes every open position best-effort and records how many
// closures succeeded.
func (o *Orchestrator) emergency(cause error) (Outcome, error) {
	o.state.Store(int32(StateStopping))
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownTimeout)
	defer cancel()

	o.logger.Error("emergency shutdown", slog.String("cause", cause.Error()))
	out := Outcome{Mode: ShutdownEmergency, Reason: cause.Error(), EventsProcessed: o.events.Load()}

	var positions map[string]domain.Position
	var posErr error
	for attempt := 0; attempt < o.cfg.CloseRetries; attempt++ {
		if positions, posErr = o.broker.Positions(ctx); posErr == nil {
			break
		}
		o.sleepRetry(ctx)
	}

	symbols := make([]string, 0, len(positions))
	for s := range positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var failed []string
	for _, symbol := range symbols {
		if err := o.closeWithRetry(ctx, symbol); err != nil {
			out.PositionsFailed++
			failed = append(failed, symbol)
			o.logger.Error("emergency close failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
			continue
		}
		out.PositionsClosed++
	}

	detail := map[string]any{
		"reason":           cause.Error(),
		"positions_open":   len(symbols),
		"positions_closed": out.PositionsClosed,
		"positions_failed": out.PositionsFailed,
	}
	if len(failed) > 0 {
		detail["failed_symbols"] = failed
	}
	if posErr != nil {
		detail["positions_error"] = posErr.Error()
	}
	if bal, err := o.broker.Balance(ctx); err == nil {
		out.Balance = bal
		detail["balance"] = bal.String()
	}
	if remaining, err := o.broker.Positions(ctx); err == nil {
		out.Positions = remaining
	}
	if err := o.record(ctx, domain.AuditEmergencyShutdown, "", detail); err != nil {
		o.logger.Error("record emergency shutdown failed", slog.String("error", err.Error()))
	}
	if err := o.feed.Close(); err != nil {
		o.logger.Warn("feed close failed", slog.String("error", err.Error()))
	}

	o.notify(ctx, "emergency_shutdown", "EMERGENCY SHUTDOWN",
		fmt.Sprintf("cause: %s\nclosed: %d\nfailed: %d", cause, out.PositionsClosed, out.PositionsFailed))
	return out, fmt.Errorf("%w: %w", domain.ErrEmergencyShutdown, cause)
}

func (o *Orchestrator) closeWithRetry(ctx context.Context, symbol string) error {
	var err error
	for attempt := 1; attempt <= o.cfg.CloseRetries; attempt++ {
		if err = o.broker.CloseAll(ctx, symbol); err == nil {
			return nil
		}
		o.logger.Warn("close attempt failed",
			slog.String("symbol", symbol),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < o.cfg.CloseRetries {
			o.sleepRetry(ctx)
		}
	}
	return err
}

func (o *Orchestrator) sleepRetry(ctx context.Context) {
	if o.cfg.CloseRetryDelay <= 0 {
		return
	}
	t := time.NewTimer(o.cfg.CloseRetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (o *Orchestrator) notify(ctx context.Context, event, title, msg string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, title, msg); err != nil {
		o.logger.Warn("notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func barDetail(b domain.Bar) map[string]any {
	return map[string]any{
		"start":  b.Start,
		"end":    b.End,
		"open":   b.Open.String(),
		"high":   b.High.String(),
		"low":    b.Low.String(),
		"close":  b.Close.String(),
		"volume": b.Volume.String(),
		"gap":    b.Gap,
	}
}

func signalDetail(s domain.Signal) map[string]any {
	d := map[string]any{
		"signal_id": s.ID,
		"source":    s.Source,
		"side":      string(s.Side),
		"quantity":  s.Quantity.String(),
		"price":     s.Price.String(),
		"reason":    s.Reason,
	}
	if s.StopLoss != nil {
		d["stop_loss"] = s.StopLoss.String()
	}
	if s.TakeProfit != nil {
		d["take_profit"] = s.TakeProfit.String()
	}
	return d
}

func positionList(positions map[string]domain.Position) []map[string]any {
	symbols := make([]string, 0, len(positions))
	for s := range positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	out := make([]map[string]any, 0, len(symbols))
	for _, s := range symbols {
		p := positions[s]
		out = append(out, map[string]any{
			"symbol":         p.Symbol,
			"side":           string(p.Side),
			"quantity":       p.Quantity.String(),
			"entry_price":    p.EntryPrice.String(),
			"current_price":  p.CurrentPrice.String(),
			"unrealized_pnl": p.UnrealizedPnL.String(),
		})
	}
	return out
}
