package sim

import (
	"context"
	"errors"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/orderbook"
)

// MarkingFeed passes events through unchanged and marks the broker at the
// top of book (or the bar close) before returning each one. Paper mode uses
// it to price simulated fills from live data.
type MarkingFeed struct {
	inner  domain.Feed
	broker *Broker
	books  map[string]*orderbook.Book
}

var _ domain.Feed = (*MarkingFeed)(nil)

func NewMarkingFeed(inner domain.Feed, broker *Broker) *MarkingFeed {
	return &MarkingFeed{inner: inner, broker: broker, books: make(map[string]*orderbook.Book)}
}

// Connect resets the shadow books; the first snapshot after a reconnect
// rebuilds them.
func (f *MarkingFeed) Connect(ctx context.Context) error {
	clear(f.books)
	return f.inner.Connect(ctx)
}

func (f *MarkingFeed) Close() error { return f.inner.Close() }

func (f *MarkingFeed) Next(ctx context.Context) (domain.MarketEvent, error) {
	ev, err := f.inner.Next(ctx)
	if err != nil {
		return ev, err
	}
	f.mark(ev)
	return ev, nil
}

func (f *MarkingFeed) mark(ev domain.MarketEvent) {
	if ev.Kind == domain.EventBar {
		if ev.Bar != nil {
			f.broker.Mark(ev.Symbol, ev.Bar.Close, ev.Bar.Close, ev.Time)
		}
		return
	}
	book, ok := f.books[ev.Symbol]
	if !ok {
		book = orderbook.New(ev.Symbol)
		f.books[ev.Symbol] = book
	}
	var err error
	if ev.Kind == domain.EventSnapshot {
		err = book.ApplySnapshot(ev.Bids, ev.Asks, ev.Time)
	} else {
		for _, u := range ev.Updates {
			err = errors.Join(err, book.ApplyUpdate(u.Side, u.Price, u.Quantity, ev.Time))
		}
	}
	if err != nil {
		// The orchestrator rejects and audits the same event.
		return
	}
	bid, okb := book.BestBid()
	ask, oka := book.BestAsk()
	if okb && oka {
		f.broker.Mark(ev.Symbol, bid.Price, ask.Price, ev.Time)
	}
}
