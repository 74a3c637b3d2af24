package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether a fill bought or sold.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Fill is a confirmed execution. ClosesPosition is set when the fill
// reduced an existing position, and RealizedPnL carries the gross P&L of
// the reduced quantity. Fee is charged separately.
type Fill struct {
	OrderID        string          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Fee            decimal.Decimal `json:"fee"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	ClosesPosition bool            `json:"closes_position"`
	Time           time.Time       `json:"time"`
}
