package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/orderbook"
)

// Name of the imbalance + trend strategy.
const ImbalanceTrendName = "imbalance_trend"

// Stats are the signal counters exposed by ImbalanceTrend.
type Stats struct {
	Generated  int64           `json:"signals_generated"`
	Filtered   int64           `json:"signals_filtered"`
	Suppressed int64           `json:"signals_suppressed"`
	Exits      int64           `json:"exits"`
	FilterRate decimal.Decimal `json:"filter_rate"`
}

type instrument struct {
	trend      *TrendFilter
	inPosition bool
	side       domain.PositionSide
	entryTime  time.Time
}

// ImbalanceTrend emits a buy when bid notional dominates the top of the
// book and the trend is bullish, and a sell when ask notional dominates
// and the trend is bearish. Candidates against the trend, or without an
// established trend, are filtered.
type ImbalanceTrend struct {
	cfg    Config
	logger *slog.Logger

	instruments map[string]*instrument
	generated   int64
	filtered    int64
	suppressed  int64
	exits       int64
}

var _ Strategy = (*ImbalanceTrend)(nil)

// NewImbalanceTrend creates the strategy.
func NewImbalanceTrend(cfg Config, logger *slog.Logger) *ImbalanceTrend {
	return &ImbalanceTrend{
		cfg:         cfg,
		logger:      logger.With(slog.String("strategy", ImbalanceTrendName)),
		instruments: make(map[string]*instrument),
	}
}

func (s *ImbalanceTrend) Name() string { return ImbalanceTrendName }

func (s *ImbalanceTrend) state(symbol string) *instrument {
	st, ok := s.instruments[symbol]
	if !ok {
		st = &instrument{trend: NewTrendFilter(s.cfg.FastPeriod, s.cfg.SlowPeriod)}
		s.instruments[symbol] = st
	}
	return st
}

// OnBar updates the instrument's trend from the bar close and checks the
// time exit.
func (s *ImbalanceTrend) OnBar(_ context.Context, bar domain.Bar) ([]domain.Signal, error) {
	st := s.state(bar.Symbol)
	prev := st.trend.Trend()
	trend, changed := st.trend.Update(bar.Close)
	if changed {
		fast, slow, _ := st.trend.Averages()
		s.logger.Info("trend changed",
			slog.String("symbol", bar.Symbol),
			slog.String("from", string(prev)),
			slog.String("to", string(trend)),
			slog.String("fast_ma", fast.String()),
			slog.String("slow_ma", slow.String()),
		)
	}
	if sig, ok := s.timeExit(bar.Symbol, st, bar.Close, bar.End); ok {
		return []domain.Signal{sig}, nil
	}
	return nil, nil
}

// OnBook evaluates imbalance at the configured depth.
func (s *ImbalanceTrend) OnBook(_ context.Context, book *orderbook.Book, ts time.Time) ([]domain.Signal, error) {
	symbol := book.Symbol()
	st := s.state(symbol)

	bid, okb := book.BestBid()
	ask, oka := book.BestAsk()
	if !okb || !oka {
		return nil, nil
	}
	mid := bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))

	if sig, ok := s.timeExit(symbol, st, mid, ts); ok {
		return []domain.Signal{sig}, nil
	}

	imb := book.Imbalance(s.cfg.Depth)
	if !imb.Defined {
		return nil, nil
	}

	var candidate domain.SignalSide
	switch {
	case imb.Ratio.GreaterThan(s.cfg.UpperThreshold):
		candidate = domain.SignalBuy
	case imb.Ratio.LessThan(s.cfg.LowerThreshold):
		candidate = domain.SignalSell
	default:
		return nil, nil
	}
	s.generated++

	if st.inPosition {
		if sameDirection(st.side, candidate) {
			s.suppressed++
			return nil, nil
		}
		s.exits++
		return []domain.Signal{s.closeSignal(symbol, mid, ts,
			fmt.Sprintf("opposite imbalance %s while %s", imb.Ratio.StringFixed(4), st.side))}, nil
	}

	trend := st.trend.Trend()
	if (candidate == domain.SignalBuy && trend != TrendBullish) ||
		(candidate == domain.SignalSell && trend != TrendBearish) {
		s.filtered++
		s.logger.Debug("candidate filtered",
			slog.String("symbol", symbol),
			slog.String("side", string(candidate)),
			slog.String("trend", string(trend)),
			slog.String("imbalance", imb.Ratio.String()),
		)
		return nil, nil
	}

	price := ask.Price
	if candidate == domain.SignalSell {
		price = bid.Price
	}
	sig := domain.Signal{
		ID:        uuid.NewString(),
		Source:    ImbalanceTrendName,
		Symbol:    symbol,
		Side:      candidate,
		Quantity:  s.cfg.OrderQuantity,
		Price:     price,
		Reason:    fmt.Sprintf("imbalance %s with %s trend", imb.Ratio.StringFixed(4), trend),
		CreatedAt: ts,
	}
	sig.StopLoss, sig.TakeProfit = s.protectiveLevels(candidate, price)
	return []domain.Signal{sig}, nil
}

// OnExecuted flips entry state after a confirmed execution.
func (s *ImbalanceTrend) OnExecuted(sig domain.Signal, ts time.Time) {
	st := s.state(sig.Symbol)
	switch sig.Side {
	case domain.SignalBuy:
		st.inPosition, st.side, st.entryTime = true, domain.PositionLong, ts
	case domain.SignalSell:
		st.inPosition, st.side, st.entryTime = true, domain.PositionShort, ts
	case domain.SignalClose:
		st.inPosition, st.side, st.entryTime = false, "", time.Time{}
	}
}

// SyncPositions marks instruments flat when the broker no longer reports a
// position (for example after a stop loss), and adopts positions the
// strategy did not open itself.
func (s *ImbalanceTrend) SyncPositions(positions map[string]domain.Position, ts time.Time) {
	for symbol, st := range s.instruments {
		if _, ok := positions[symbol]; !ok && st.inPosition {
			st.inPosition, st.side, st.entryTime = false, "", time.Time{}
		}
	}
	for symbol, p := range positions {
		if p.Quantity.IsZero() {
			continue
		}
		st := s.state(symbol)
		if !st.inPosition || st.side != p.Side {
			st.inPosition, st.side, st.entryTime = true, p.Side, ts
		}
	}
}

// Stats returns the signal counters.
func (s *ImbalanceTrend) Stats() Stats {
	rate := decimal.Zero
	if s.generated > 0 {
		rate = decimal.NewFromInt(s.filtered).DivRound(decimal.NewFromInt(s.generated), 8)
	}
	return Stats{
		Generated:  s.generated,
		Filtered:   s.filtered,
		Suppressed: s.suppressed,
		Exits:      s.exits,
		FilterRate: rate,
	}
}

// Trend returns the current trend for symbol.
func (s *ImbalanceTrend) Trend(symbol string) Trend {
	if st, ok := s.instruments[symbol]; ok {
		return st.trend.Trend()
	}
	return TrendNone
}

// InPosition reports the entry state tracked for symbol.
func (s *ImbalanceTrend) InPosition(symbol string) bool {
	st, ok := s.instruments[symbol]
	return ok && st.inPosition
}

func (s *ImbalanceTrend) timeExit(symbol string, st *instrument, price decimal.Decimal, ts time.Time) (domain.Signal, bool) {
	if s.cfg.MaxHold <= 0 || !st.inPosition || st.entryTime.IsZero() {
		return domain.Signal{}, false
	}
	held := ts.Sub(st.entryTime)
	if held < s.cfg.MaxHold {
		return domain.Signal{}, false
	}
	s.exits++
	return s.closeSignal(symbol, price, ts, fmt.Sprintf("max hold %s exceeded (%s)", s.cfg.MaxHold, held)), true
}

func (s *ImbalanceTrend) closeSignal(symbol string, price decimal.Decimal, ts time.Time, reason string) domain.Signal {
	return domain.Signal{
		ID:        uuid.NewString(),
		Source:    ImbalanceTrendName,
		Symbol:    symbol,
		Side:      domain.SignalClose,
		Price:     price,
		Reason:    reason,
		CreatedAt: ts,
	}
}

func (s *ImbalanceTrend) protectiveLevels(side domain.SignalSide, price decimal.Decimal) (sl, tp *decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if s.cfg.StopLossFraction.IsPositive() {
		v := price.Mul(one.Sub(s.cfg.StopLossFraction))
		if side == domain.SignalSell {
			v = price.Mul(one.Add(s.cfg.StopLossFraction))
		}
		sl = &v
	}
	if s.cfg.TakeProfitFraction.IsPositive() {
		v := price.Mul(one.Add(s.cfg.TakeProfitFraction))
		if side == domain.SignalSell {
			v = price.Mul(one.Sub(s.cfg.TakeProfitFraction))
		}
		tp = &v
	}
	return sl, tp
}

func sameDirection(side domain.PositionSide, candidate domain.SignalSide) bool {
	return (side == domain.PositionLong && candidate == domain.SignalBuy) ||
		(side == domain.PositionShort && candidate == domain.SignalSell)
}
