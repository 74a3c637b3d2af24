package domain

import "github.com/shopspring/decimal"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is a broker-owned snapshot of an open position. Quantity is
// always positive; Side carries the direction.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Exposure returns the absolute marked notional of the position.
func (p Position) Exposure() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice).Abs()
}

// Account is the broker state consulted by the kill switch.
type Account struct {
	Balance   decimal.Decimal
	Positions map[string]Position
}

// Equity returns balance plus unrealized P&L across all positions.
func (a Account) Equity() decimal.Decimal {
	eq := a.Balance
	for _, p := range a.Positions {
		eq = eq.Add(p.UnrealizedPnL)
	}
	return eq
}
