package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// Names of the individual risk checks, reported in RiskCheckResult.Check.
const (
	CheckKillSwitch        = "kill_switch"
	CheckDailyLoss         = "max_daily_loss_usd"
	CheckMaxPosition       = "max_position_usd"
	CheckMaxTotalExposure  = "max_total_exposure_usd"
	CheckMaxTradesPerDay   = "max_trades_per_day"
	CheckMaxLeverage       = "max_leverage"
	CheckLiquidationBuffer = "liquidation_buffer_fraction"
)

// RiskSnapshot is a point-in-time view of the risk state for status APIs.
type RiskSnapshot struct {
	Day            string `json:"day"`
	TradesToday    int    `json:"trades_today"`
	MaxTradesDay   int    `json:"max_trades_per_day"`
	DayStartEquity string `json:"day_start_equity,omitempty"`
	Tripped        bool   `json:"kill_switch_tripped"`
	TripReason     string `json:"kill_switch_reason,omitempty"`
}

// RiskManager gates every signal against the configured limits and owns
// the kill switch. Day boundaries are UTC midnight of the injected clock.
type RiskManager struct {
	limits domain.RiskLimits
	clock  domain.Clock
	logger *slog.Logger

	mu             sync.Mutex
	day            time.Time
	tradesToday    int
	dayStartEquity decimal.Decimal
	haveDayStart   bool
	halted         string
	tripped        bool
	tripReason     string
}

// NewRiskManager creates a RiskManager. A nil clock uses the system clock.
func NewRiskManager(limits domain.RiskLimits, clock domain.Clock, logger *slog.Logger) *RiskManager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &RiskManager{
		limits: limits,
		clock:  clock,
		logger: logger.With(slog.String("component", "risk")),
	}
}

// Limits returns the configured limits.
func (m *RiskManager) Limits() domain.RiskLimits { return m.limits }

// Halt sets the external halt flag. The next kill switch check trips.
func (m *RiskManager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason == "" {
		reason = "external halt"
	}
	m.halted = reason
}

// CheckKillSwitch evaluates the standing, signal-independent condition. It
// trips on the external halt flag or when today's equity drawdown reaches
// max_daily_loss_usd. Once tripped it stays tripped.
func (m *RiskManager) CheckKillSwitch(acct domain.Account) domain.RiskCheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tripped {
		return domain.Reject(CheckKillSwitch, m.tripReason)
	}
	m.rollDayLocked()

	equity := acct.Equity()
	if !m.haveDayStart {
		m.dayStartEquity = equity
		m.haveDayStart = true
	}

	if m.halted != "" {
		return m.tripLocked(CheckKillSwitch, m.halted)
	}
	if m.limits.MaxDailyLossUSD.IsPositive() {
		loss := m.dayStartEquity.Sub(equity)
		if loss.GreaterThan(m.limits.MaxDailyLossUSD) {
			return m.tripLocked(CheckDailyLoss, fmt.Sprintf("daily loss %s exceeds max_daily_loss_usd %s (day start equity %s, equity %s)",
				loss.StringFixed(2), m.limits.MaxDailyLossUSD, m.dayStartEquity.StringFixed(2), equity.StringFixed(2)))
		}
	}
	return domain.Pass()
}

func (m *RiskManager) tripLocked(check, reason string) domain.RiskCheckResult {
	m.tripped = true
	m.tripReason = reason
	m.logger.Error("kill switch tripped", slog.String("check", check), slog.String("reason", reason))
	return domain.Reject(check, reason)
}

// Tripped reports whether the kill switch has tripped.
func (m *RiskManager) Tripped() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped, m.tripReason
}

// CheckAll runs the per-signal predicates in order and returns the first
// failure. Close signals only reduce exposure and always pass.
//
// Checks performed:
//  1. max_position_usd: quantity * price
//  2. max_total_exposure_usd: open exposure plus the proposed notional
//  3. max_trades_per_day: confirmed executions today
//  4. max_leverage and liquidation_buffer_fraction
func (m *RiskManager) CheckAll(sig domain.Signal, positions map[string]domain.Position) domain.RiskCheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tripped {
		return domain.Reject(CheckKillSwitch, m.tripReason)
	}
	if !sig.IsEntry() {
		return domain.Pass()
	}
	m.rollDayLocked()

	for _, check := range []func(domain.Signal, map[string]domain.Position) domain.RiskCheckResult{
		m.checkPosition,
		m.checkExposure,
		m.checkTradeCount,
		m.checkLeverage,
	} {
		if res := check(sig, positions); !res.Passed {
			m.logger.Warn("signal rejected",
				slog.String("signal_id", sig.ID),
				slog.String("symbol", sig.Symbol),
				slog.String("check", res.Check),
				slog.String("reason", res.Reason),
			)
			return res
		}
	}
	return domain.Pass()
}

func (m *RiskManager) checkPosition(sig domain.Signal, _ map[string]domain.Position) domain.RiskCheckResult {
	if !m.limits.MaxPositionUSD.IsPositive() {
		return domain.Pass()
	}
	notional := sig.Notional().Abs()
	if notional.GreaterThan(m.limits.MaxPositionUSD) {
		return domain.Reject(CheckMaxPosition, fmt.Sprintf("position notional %s exceeds max_position_usd %s",
			notional.StringFixed(2), m.limits.MaxPositionUSD))
	}
	return domain.Pass()
}

func (m *RiskManager) checkExposure(sig domain.Signal, positions map[string]domain.Position) domain.RiskCheckResult {
	if !m.limits.MaxTotalExposureUSD.IsPositive() {
		return domain.Pass()
	}
	total := sig.Notional().Abs()
	for _, p := range positions {
		total = total.Add(p.Exposure())
	}
	if total.GreaterThan(m.limits.MaxTotalExposureUSD) {
		return domain.Reject(CheckMaxTotalExposure, fmt.Sprintf("total exposure %s exceeds max_total_exposure_usd %s",
			total.StringFixed(2), m.limits.MaxTotalExposureUSD))
	}
	return domain.Pass()
}

func (m *RiskManager) checkTradeCount(_ domain.Signal, _ map[string]domain.Position) domain.RiskCheckResult {
	if m.limits.MaxTradesPerDay <= 0 {
		return domain.Pass()
	}
	if m.tradesToday >= m.limits.MaxTradesPerDay {
		return domain.Reject(CheckMaxTradesPerDay, fmt.Sprintf("%d trades today reached max_trades_per_day %d",
			m.tradesToday, m.limits.MaxTradesPerDay))
	}
	return domain.Pass()
}

func (m *RiskManager) checkLeverage(sig domain.Signal, _ map[string]domain.Position) domain.RiskCheckResult {
	lev := m.limits.Leverage
	if !lev.IsPositive() {
		return domain.Pass()
	}
	if m.limits.MaxLeverage.IsPositive() && lev.GreaterThan(m.limits.MaxLeverage) {
		return domain.Reject(CheckMaxLeverage, fmt.Sprintf("leverage %s exceeds max_leverage %s", lev, m.limits.MaxLeverage))
	}
	if !m.limits.LiquidationBufferFraction.IsPositive() || !sig.Price.IsPositive() {
		return domain.Pass()
	}
	liq := LiquidationPrice(sig.Side, sig.Price, lev, m.limits.MaintenanceMarginRate)
	distance := sig.Price.Sub(liq).Abs().DivRound(sig.Price, 16)
	if !distance.GreaterThan(m.limits.LiquidationBufferFraction) {
		return domain.Reject(CheckLiquidationBuffer, fmt.Sprintf("liquidation at %s is %s of entry %s, buffer requires more than %s",
			liq.StringFixed(4), distance.StringFixed(4), sig.Price, m.limits.LiquidationBufferFraction))
	}
	return domain.Pass()
}

// LiquidationPrice estimates the isolated-margin liquidation price of a
// new position: entry*(1 - 1/L + mmr) for longs and entry*(1 + 1/L - mmr)
// for shorts.
func LiquidationPrice(side domain.SignalSide, entry, leverage, mmr decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	inv := one.DivRound(leverage, 16)
	if side == domain.SignalSell {
		return entry.Mul(one.Add(inv).Sub(mmr))
	}
	return entry.Mul(one.Sub(inv).Add(mmr))
}

// RecordTrade counts one confirmed execution against today's budget.
func (m *RiskManager) RecordTrade() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	m.tradesToday++
}

// TradesToday returns the confirmed executions counted for the current day.
func (m *RiskManager) TradesToday() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.tradesToday
}

// Snapshot returns the current state for status reporting.
func (m *RiskManager) Snapshot() RiskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	s := RiskSnapshot{
		Day:          m.day.Format(time.DateOnly),
		TradesToday:  m.tradesToday,
		MaxTradesDay: m.limits.MaxTradesPerDay,
		Tripped:      m.tripped,
		TripReason:   m.tripReason,
	}
	if m.haveDayStart {
		s.DayStartEquity = m.dayStartEquity.String()
	}
	return s
}

func (m *RiskManager) rollDayLocked() {
	now := m.clock.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if day.Equal(m.day) {
		return
	}
	if !m.day.IsZero() {
		m.logger.Info("daily risk counters reset",
			slog.String("day", day.Format(time.DateOnly)),
			slog.Int("trades_previous_day", m.tradesToday),
		)
	}
	m.day = day
	m.tradesToday = 0
	m.haveDayStart = false
}

// ScaleWeights scales every target weight proportionally so the largest
// absolute weight equals maxWeight, preserving relative allocation. Weights
// already within the cap are returned unchanged.
func ScaleWeights(weights map[string]decimal.Decimal, maxWeight decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(weights))
	largest := decimal.Zero
	for _, w := range weights {
		if a := w.Abs(); a.GreaterThan(largest) {
			largest = a
		}
	}
	if !maxWeight.IsPositive() || !largest.GreaterThan(maxWeight) {
		for k, w := range weights {
			out[k] = w
		}
		return out
	}
	for k, w := range weights {
		out[k] = w.Mul(maxWeight).DivRound(largest, 16)
	}
	return out
}
