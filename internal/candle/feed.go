package candle

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/orderbook"
)

// FeedAdapter wraps a depth feed and interleaves bars aggregated from it.
// Bars completed by a snapshot are delivered before that snapshot. Bar
// events from the inner feed pass through untouched.
type FeedAdapter struct {
	inner  domain.Feed
	agg    *Aggregator
	logger *slog.Logger

	books       map[string]*orderbook.Book
	queue       []domain.MarketEvent
	dataQuality atomic.Int64
}

var _ domain.Feed = (*FeedAdapter)(nil)

// NewFeedAdapter wraps inner with the given aggregator.
func NewFeedAdapter(inner domain.Feed, agg *Aggregator, logger *slog.Logger) *FeedAdapter {
	return &FeedAdapter{
		inner:  inner,
		agg:    agg,
		logger: logger.With(slog.String("component", "bar_aggregator")),
		books:  make(map[string]*orderbook.Book),
	}
}

func (f *FeedAdapter) Connect(ctx context.Context) error { return f.inner.Connect(ctx) }

func (f *FeedAdapter) Close() error { return f.inner.Close() }

// DataQualityErrors returns the number of snapshots rejected by bar
// validation.
func (f *FeedAdapter) DataQualityErrors() int64 { return f.dataQuality.Load() }

func (f *FeedAdapter) Next(ctx context.Context) (domain.MarketEvent, error) {
	if len(f.queue) > 0 {
		ev := f.queue[0]
		f.queue = f.queue[1:]
		return ev, nil
	}
	ev, err := f.inner.Next(ctx)
	if err != nil {
		return ev, err
	}
	if ev.Kind == domain.EventBar {
		return ev, nil
	}

	bars := f.observe(ev)
	if len(bars) == 0 {
		return ev, nil
	}
	for _, b := range bars[1:] {
		f.queue = append(f.queue, barEvent(b))
	}
	f.queue = append(f.queue, ev)
	return barEvent(bars[0]), nil
}

func (f *FeedAdapter) observe(ev domain.MarketEvent) []domain.Bar {
	book, ok := f.books[ev.Symbol]
	if !ok {
		book = orderbook.New(ev.Symbol)
		f.books[ev.Symbol] = book
	}
	var err error
	switch ev.Kind {
	case domain.EventSnapshot:
		err = book.ApplySnapshot(ev.Bids, ev.Asks, ev.Time)
	case domain.EventUpdate:
		for _, u := range ev.Updates {
			err = errors.Join(err, book.ApplyUpdate(u.Side, u.Price, u.Quantity, ev.Time))
		}
	}
	if err != nil {
		f.reject(ev, err)
		return nil
	}
	bid, okb := book.BestBid()
	ask, oka := book.BestAsk()
	if !okb || !oka {
		return nil
	}
	bars, err := f.agg.Add(ev.Symbol, bid.Price, ask.Price, ev.Time)
	if err != nil {
		f.reject(ev, err)
		return nil
	}
	return bars
}

func (f *FeedAdapter) reject(ev domain.MarketEvent, err error) {
	f.dataQuality.Add(1)
	f.logger.Warn("snapshot excluded from bar",
		slog.String("symbol", ev.Symbol),
		slog.Time("time", ev.Time),
		slog.String("error", err.Error()),
	)
}

func barEvent(b domain.Bar) domain.MarketEvent {
	bar := b
	return domain.MarketEvent{
		Kind:   domain.EventBar,
		Symbol: b.Symbol,
		Time:   b.End,
		Bar:    &bar,
	}
}
