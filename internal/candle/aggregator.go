// Package candle aggregates book snapshots into fixed-duration bars.
package candle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

var two = decimal.NewFromInt(2)

// Aggregator builds bars from mid prices: open is the first mid in the
// interval, close the last, high/low the extrema and volume the number of
// snapshots. Intervals are aligned to the Unix epoch in UTC.
type Aggregator struct {
	interval  time.Duration
	fillEmpty bool
	open      map[string]*domain.Bar
	lastClose map[string]domain.Bar
}

// NewAggregator returns an aggregator for the given interval. When
// fillEmpty is set, intervals without data are emitted as zero-volume bars;
// otherwise the next bar after a hole is flagged with Gap.
func NewAggregator(interval time.Duration, fillEmpty bool) *Aggregator {
	return &Aggregator{
		interval:  interval,
		fillEmpty: fillEmpty,
		open:      make(map[string]*domain.Bar),
		lastClose: make(map[string]domain.Bar),
	}
}

// Interval returns the bar duration.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Add folds one snapshot's best bid and ask into the current bar and
// returns any bars completed by it, oldest first. A snapshot that violates
// bid < mid < ask is rejected with a *domain.DataQualityError and does not
// touch the aggregation state.
func (a *Aggregator) Add(symbol string, bid, ask decimal.Decimal, ts time.Time) ([]domain.Bar, error) {
	mid, err := Mid(symbol, bid, ask)
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	start := ts.Truncate(a.interval)

	cur, ok := a.open[symbol]
	if ok && !start.After(cur.Start) {
		if start.Before(cur.Start) {
			return nil, &domain.DataQualityError{Symbol: symbol, Reason: fmt.Sprintf("snapshot at %s precedes open bar %s", ts, cur.Start)}
		}
		cur.High = decimal.Max(cur.High, mid)
		cur.Low = decimal.Min(cur.Low, mid)
		cur.Close = mid
		cur.Volume = cur.Volume.Add(decimal.NewFromInt(1))
		return nil, nil
	}

	var done []domain.Bar
	if ok {
		done = append(done, *cur)
		a.lastClose[symbol] = *cur
		delete(a.open, symbol)
	}

	gap := false
	if prev, seen := a.lastClose[symbol]; seen && start.After(prev.End) {
		if a.fillEmpty {
			for s := prev.End; s.Before(start); s = s.Add(a.interval) {
				empty := domain.Bar{
					Symbol: symbol,
					Start:  s,
					End:    s.Add(a.interval),
					Open:   prev.Close,
					High:   prev.Close,
					Low:    prev.Close,
					Close:  prev.Close,
					Volume: decimal.Zero,
				}
				done = append(done, empty)
			}
		} else {
			gap = true
		}
	}

	a.open[symbol] = &domain.Bar{
		Symbol: symbol,
		Start:  start,
		End:    start.Add(a.interval),
		Open:   mid,
		High:   mid,
		Low:    mid,
		Close:  mid,
		Volume: decimal.NewFromInt(1),
		Gap:    gap,
	}
	return done, nil
}

// Mid validates bid < mid < ask and returns the mid price.
func Mid(symbol string, bid, ask decimal.Decimal) (decimal.Decimal, error) {
	if !bid.IsPositive() || !ask.IsPositive() {
		return decimal.Zero, &domain.DataQualityError{Symbol: symbol, Reason: fmt.Sprintf("non-positive quote bid=%s ask=%s", bid, ask)}
	}
	mid := bid.Add(ask).Div(two)
	if !bid.LessThan(mid) || !mid.LessThan(ask) {
		return decimal.Zero, &domain.DataQualityError{Symbol: symbol, Reason: fmt.Sprintf("bid %s < mid %s < ask %s violated", bid, mid, ask)}
	}
	return mid, nil
}
