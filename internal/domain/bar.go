package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is an OHLCV summary of one interval. Volume is tick volume when the
// bar is derived from book snapshots.
type Bar struct {
	Symbol string          `json:"symbol"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	// Gap is set when one or more intervals before this bar had no data.
	Gap bool `json:"gap,omitempty"`
}

// ZeroVolume reports whether the bar carries no traded volume.
func (b Bar) ZeroVolume() bool {
	return b.Volume.IsZero()
}
