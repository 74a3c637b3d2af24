package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BookSide identifies one side of an order book.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// PriceLevel is a single price+quantity entry in an order book.
// A zero quantity removes the level.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// UnmarshalJSON accepts both the compact [price, quantity] form and the
// {"price":..,"quantity":..} object form. Values may be JSON strings or
// numbers; they are parsed from their literal text.
func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []decimal.Decimal
		if err := json.Unmarshal(data, &pair); err != nil {
			return fmt.Errorf("price level: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("price level: want [price, quantity], got %d values", len(pair))
		}
		l.Price, l.Quantity = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Price    *decimal.Decimal `json:"price"`
		Quantity *decimal.Decimal `json:"quantity"`
		Size     *decimal.Decimal `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("price level: %w", err)
	}
	if obj.Price == nil {
		return fmt.Errorf("price level: missing price")
	}
	l.Price = *obj.Price
	switch {
	case obj.Quantity != nil:
		l.Quantity = *obj.Quantity
	case obj.Size != nil:
		l.Quantity = *obj.Size
	default:
		return fmt.Errorf("price level: missing quantity")
	}
	return nil
}

// LevelUpdate is an incremental change to a single level.
type LevelUpdate struct {
	Side     BookSide        `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}
