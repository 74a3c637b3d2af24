// Package orderbook maintains level-2 market depth for one instrument.
//
// A Book has a single owner: it is mutated in place and is not safe for
// concurrent writers.
package orderbook

import (
	"fmt"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

const treeDegree = 16

type level struct {
	price decimal.Decimal
	qty   decimal.Decimal
}

func byPrice(a, b level) bool { return a.price.LessThan(b.price) }

// Book is an in-memory L2 order book. Bids and asks are kept in price order
// with unique price keys.
type Book struct {
	symbol  string
	bids    *btree.BTreeG[level]
	asks    *btree.BTreeG[level]
	updated time.Time
}

// New returns an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   btree.NewG(treeDegree, byPrice),
		asks:   btree.NewG(treeDegree, byPrice),
	}
}

// Symbol returns the instrument this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// UpdatedAt returns the timestamp of the last successful mutation.
func (b *Book) UpdatedAt() time.Time { return b.updated }

// ApplySnapshot replaces both sides wholesale. Zero-quantity levels are
// dropped. If the input is malformed or would leave the book crossed, an
// error wrapping domain.ErrMalformedBook is returned and the previous state
// is left untouched.
func (b *Book) ApplySnapshot(bids, asks []domain.PriceLevel, ts time.Time) error {
	newBids, err := buildSide(bids)
	if err != nil {
		return fmt.Errorf("orderbook: %s snapshot bids: %w", b.symbol, err)
	}
	newAsks, err := buildSide(asks)
	if err != nil {
		return fmt.Errorf("orderbook: %s snapshot asks: %w", b.symbol, err)
	}
	if crossed(newBids, newAsks) {
		bb, _ := newBids.Max()
		ba, _ := newAsks.Min()
		return fmt.Errorf("orderbook: %s snapshot crossed (bid %s >= ask %s): %w",
			b.symbol, bb.price, ba.price, domain.ErrMalformedBook)
	}
	b.bids, b.asks = newBids, newAsks
	b.updated = ts
	return nil
}

// ApplyUpdate upserts a single level; a zero quantity removes it. The
// update is applied even if it leaves the book crossed, in which case an
// error wrapping domain.ErrMalformedBook is returned so the caller can skip
// evaluation until the book uncrosses.
func (b *Book) ApplyUpdate(side domain.BookSide, price, qty decimal.Decimal, ts time.Time) error {
	if err := validateLevel(price, qty); err != nil {
		return fmt.Errorf("orderbook: %s update: %w", b.symbol, err)
	}
	var tree *btree.BTreeG[level]
	switch side {
	case domain.BookSideBid:
		tree = b.bids
	case domain.BookSideAsk:
		tree = b.asks
	default:
		return fmt.Errorf("orderbook: %s update: unknown side %q: %w", b.symbol, side, domain.ErrMalformedBook)
	}
	if qty.IsZero() {
		tree.Delete(level{price: price})
	} else {
		tree.ReplaceOrInsert(level{price: price, qty: qty})
	}
	b.updated = ts
	if crossed(b.bids, b.asks) {
		return fmt.Errorf("orderbook: %s crossed after update: %w", b.symbol, domain.ErrMalformedBook)
	}
	return nil
}

// BestBid returns the highest bid level.
func (b *Book) BestBid() (domain.PriceLevel, bool) {
	l, ok := b.bids.Max()
	return toLevel(l), ok
}

// BestAsk returns the lowest ask level.
func (b *Book) BestAsk() (domain.PriceLevel, bool) {
	l, ok := b.asks.Min()
	return toLevel(l), ok
}

// Mid returns (best bid + best ask) / 2. ok is false when either side is
// empty.
func (b *Book) Mid() (decimal.Decimal, bool) {
	bid, okb := b.bids.Max()
	ask, oka := b.asks.Min()
	if !okb || !oka {
		return decimal.Zero, false
	}
	return bid.price.Add(ask.price).Div(decimal.NewFromInt(2)), true
}

// Spread returns best ask minus best bid.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, okb := b.bids.Max()
	ask, oka := b.asks.Min()
	if !okb || !oka {
		return decimal.Zero, false
	}
	return ask.price.Sub(bid.price), true
}

// Depth returns up to n levels from the top of side. n <= 0 returns all
// levels. Bids are ordered descending, asks ascending.
func (b *Book) Depth(side domain.BookSide, n int) []domain.PriceLevel {
	var out []domain.PriceLevel
	collect := func(l level) bool {
		out = append(out, toLevel(l))
		return n <= 0 || len(out) < n
	}
	switch side {
	case domain.BookSideBid:
		b.bids.Descend(collect)
	case domain.BookSideAsk:
		b.asks.Ascend(collect)
	}
	return out
}

// Len returns the number of bid and ask levels.
func (b *Book) Len() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}

func buildSide(levels []domain.PriceLevel) (*btree.BTreeG[level], error) {
	t := btree.NewG(treeDegree, byPrice)
	for _, pl := range levels {
		if err := validateLevel(pl.Price, pl.Quantity); err != nil {
			return nil, err
		}
		if pl.Quantity.IsZero() {
			continue
		}
		t.ReplaceOrInsert(level{price: pl.Price, qty: pl.Quantity})
	}
	return t, nil
}

func validateLevel(price, qty decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("non-positive price %s: %w", price, domain.ErrMalformedBook)
	}
	if qty.IsNegative() {
		return fmt.Errorf("negative quantity %s at %s: %w", qty, price, domain.ErrMalformedBook)
	}
	return nil
}

func crossed(bids, asks *btree.BTreeG[level]) bool {
	bid, okb := bids.Max()
	ask, oka := asks.Min()
	if !okb || !oka {
		return false
	}
	return bid.price.GreaterThanOrEqual(ask.price)
}

func toLevel(l level) domain.PriceLevel {
	return domain.PriceLevel{Price: l.price, Quantity: l.qty}
}
