package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Broker executes orders and is the source of truth for positions and
// balance.
type Broker interface {
	Buy(ctx context.Context, symbol string, qty decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (orderID string, err error)
	Sell(ctx context.Context, symbol string, qty decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (orderID string, err error)
	CloseAll(ctx context.Context, symbol string) error
	Positions(ctx context.Context) (map[string]Position, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// Feed delivers market events. Next returns io.EOF at end of stream and an
// error matching ErrFeedDisconnected when the connection is lost.
type Feed interface {
	Connect(ctx context.Context) error
	Next(ctx context.Context) (MarketEvent, error)
	Close() error
}
