package replay

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// Metrics summarises simulated performance. A trade is one round trip: a
// position opened from flat until it returns to flat or flips.
type Metrics struct {
	Trades         int             `json:"trades"`
	Fills          int             `json:"fills"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRate        decimal.Decimal `json:"win_rate"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	PnLPerTrade    decimal.Decimal `json:"pnl_per_trade"`
	Fees           decimal.Decimal `json:"fees"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	OpenTrades     int             `json:"open_trades"`
}

type roundTrip struct {
	qty decimal.Decimal
	pnl decimal.Decimal
}

// ComputeMetrics derives performance from the fill log alone. TotalPnL is
// realized P&L net of fees; the equity curve used for drawdown steps at
// every fill. Unrealized P&L of positions still open is not included.
func ComputeMetrics(fills []domain.Fill, startingBalance decimal.Decimal) Metrics {
	m := Metrics{Fills: len(fills)}
	open := make(map[string]*roundTrip)

	equity := startingBalance
	peak := startingBalance
	for _, f := range fills {
		signed := f.Quantity
		if f.Side == domain.OrderSideSell {
			signed = signed.Neg()
		}
		net := f.RealizedPnL.Sub(f.Fee)
		m.Fees = m.Fees.Add(f.Fee)
		m.TotalPnL = m.TotalPnL.Add(net)

		rt, ok := open[f.Symbol]
		if !ok {
			rt = &roundTrip{}
			open[f.Symbol] = rt
		}
		before := rt.qty
		rt.qty = rt.qty.Add(signed)
		rt.pnl = rt.pnl.Add(net)
		if !before.IsZero() && (rt.qty.IsZero() || rt.qty.Sign() != before.Sign()) {
			m.Trades++
			if rt.pnl.IsPositive() {
				m.Wins++
			} else {
				m.Losses++
			}
			rt.pnl = decimal.Zero
		}
		if rt.qty.IsZero() {
			delete(open, f.Symbol)
		}

		equity = equity.Add(net)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(m.MaxDrawdown) {
			m.MaxDrawdown = dd
			if peak.IsPositive() {
				m.MaxDrawdownPct = dd.DivRound(peak, 8)
			}
		}
	}

	m.OpenTrades = len(open)
	if m.Trades > 0 {
		n := decimal.NewFromInt(int64(m.Trades))
		m.WinRate = decimal.NewFromInt(int64(m.Wins)).DivRound(n, 8)
		m.PnLPerTrade = m.TotalPnL.DivRound(n, 8)
	}
	m.FinalEquity = equity
	return m
}

// WithUnrealized adds the marked P&L of positions still open to the
// final equity.
func (m Metrics) WithUnrealized(u decimal.Decimal) Metrics {
	m.UnrealizedPnL = u
	m.FinalEquity = m.FinalEquity.Add(u)
	return m
}
