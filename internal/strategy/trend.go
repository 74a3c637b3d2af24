package strategy

import (
	"github.com/shopspring/decimal"
)

// Trend is the direction reported by a TrendFilter.
type Trend string

const (
	TrendNone    Trend = "none"
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
)

// TrendFilter compares a fast and a slow simple moving average of bar
// closes. The trend stays none until more than slowPeriod closes have been
// seen, so the first slowPeriod bars never produce a direction.
type TrendFilter struct {
	fast, slow int
	history    []decimal.Decimal
	capacity   int
	trend      Trend
	fastMA     decimal.Decimal
	slowMA     decimal.Decimal
}

// NewTrendFilter returns a filter over the given periods. Non-positive
// periods are treated as 1.
func NewTrendFilter(fast, slow int) *TrendFilter {
	fast = max(fast, 1)
	slow = max(slow, 1)
	capacity := max(fast, slow) + 1
	return &TrendFilter{
		fast:     fast,
		slow:     slow,
		history:  make([]decimal.Decimal, 0, capacity),
		capacity: capacity,
		trend:    TrendNone,
	}
}

// Update appends a close and recomputes the trend. changed reports a
// discrete transition from the previous label.
func (f *TrendFilter) Update(price decimal.Decimal) (trend Trend, changed bool) {
	if len(f.history) == f.capacity {
		copy(f.history, f.history[1:])
		f.history = f.history[:f.capacity-1]
	}
	f.history = append(f.history, price)

	next := TrendNone
	if len(f.history) > f.slow && len(f.history) > f.fast {
		f.fastMA = sma(f.history, f.fast)
		f.slowMA = sma(f.history, f.slow)
		switch f.fastMA.Cmp(f.slowMA) {
		case 1:
			next = TrendBullish
		case -1:
			next = TrendBearish
		}
	}
	changed = next != f.trend
	f.trend = next
	return next, changed
}

// Trend returns the current label.
func (f *TrendFilter) Trend() Trend { return f.trend }

// Averages returns the latest fast and slow averages. ok is false until
// enough history exists.
func (f *TrendFilter) Averages() (fast, slow decimal.Decimal, ok bool) {
	if len(f.history) <= f.slow || len(f.history) <= f.fast {
		return decimal.Zero, decimal.Zero, false
	}
	return f.fastMA, f.slowMA, true
}

// Len returns the number of closes currently retained.
func (f *TrendFilter) Len() int { return len(f.history) }

func sma(hist []decimal.Decimal, n int) decimal.Decimal {
	window := hist[len(hist)-n:]
	return decimal.Sum(window[0], window[1:]...).Div(decimal.NewFromInt(int64(n)))
}
