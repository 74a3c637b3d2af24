package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/orderbook"
)

// Strategy turns market events into signals. Implementations keep
// per-instrument state and are driven from a single goroutine.
type Strategy interface {
	Name() string
	// OnBar feeds a completed bar (the slow clock).
	OnBar(ctx context.Context, bar domain.Bar) ([]domain.Signal, error)
	// OnBook evaluates the current book (the fast clock).
	OnBook(ctx context.Context, book *orderbook.Book, ts time.Time) ([]domain.Signal, error)
	// OnExecuted is called after the broker confirmed sig.
	OnExecuted(sig domain.Signal, ts time.Time)
	// SyncPositions reconciles entry state with broker-reported positions.
	SyncPositions(positions map[string]domain.Position, ts time.Time)
}

// Config holds the imbalance + trend strategy parameters.
type Config struct {
	Depth          int
	UpperThreshold decimal.Decimal
	LowerThreshold decimal.Decimal
	FastPeriod     int
	SlowPeriod     int
	OrderQuantity  decimal.Decimal
	// StopLossFraction and TakeProfitFraction are distances from the entry
	// price as a fraction of it. Zero omits the level.
	StopLossFraction   decimal.Decimal
	TakeProfitFraction decimal.Decimal
	// MaxHold closes a position once it has been open this long. Zero
	// disables the time exit.
	MaxHold time.Duration
}

// DefaultConfig returns the canonical parameters: 3x / (1/3)x thresholds
// at depth 10 with a 10/30 moving-average trend filter.
func DefaultConfig() Config {
	three := decimal.NewFromInt(3)
	return Config{
		Depth:          10,
		UpperThreshold: three,
		LowerThreshold: decimal.NewFromInt(1).DivRound(three, 16),
		FastPeriod:     10,
		SlowPeriod:     30,
		OrderQuantity:  decimal.NewFromInt(1),
	}
}
