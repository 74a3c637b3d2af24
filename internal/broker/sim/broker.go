// Package sim provides a simulated Broker that fills market orders at the
// last marked quote and keeps a fill log for performance metrics. It backs
// both replay and paper trading.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

var bpsDivisor = decimal.NewFromInt(10_000)

type quote struct {
	bid, ask decimal.Decimal
	at       time.Time
}

func (q quote) mid() decimal.Decimal {
	return q.bid.Add(q.ask).Div(decimal.NewFromInt(2))
}

// position is a signed net position: qty > 0 long, qty < 0 short.
type position struct {
	qty        decimal.Decimal
	entry      decimal.Decimal
	stopLoss   *decimal.Decimal
	takeProfit *decimal.Decimal
}

// Config configures a simulated broker.
type Config struct {
	StartingBalance decimal.Decimal
	FeeBps          decimal.Decimal
}

// Broker is an in-memory broker. Buys fill at the ask, sells at the bid.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	balance   decimal.Decimal
	quotes    map[string]quote
	positions map[string]*position
	fills     []domain.Fill
	seq       int64
}

var _ domain.Broker = (*Broker)(nil)

// New creates a simulated broker.
func New(cfg Config, logger *slog.Logger) *Broker {
	return &Broker{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sim_broker")),
		balance:   cfg.StartingBalance,
		quotes:    make(map[string]quote),
		positions: make(map[string]*position),
	}
}

// Mark records the current quote for symbol and triggers any stop loss or
// take profit it crosses.
func (b *Broker) Mark(symbol string, bid, ask decimal.Decimal, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = quote{bid: bid, ask: ask, at: ts}

	p, ok := b.positions[symbol]
	if !ok {
		return
	}
	long := p.qty.IsPositive()
	exit := bid
	if !long {
		exit = ask
	}
	var reason string
	switch {
	case p.stopLoss != nil && ((long && exit.LessThanOrEqual(*p.stopLoss)) || (!long && exit.GreaterThanOrEqual(*p.stopLoss))):
		reason = "stop_loss"
	case p.takeProfit != nil && ((long && exit.GreaterThanOrEqual(*p.takeProfit)) || (!long && exit.LessThanOrEqual(*p.takeProfit))):
		reason = "take_profit"
	default:
		return
	}
	side := domain.OrderSideSell
	if !long {
		side = domain.OrderSideBuy
	}
	f := b.fillLocked(symbol, side, p.qty.Abs(), exit, ts, nil, nil)
	b.logger.Info("protective exit filled",
		slog.String("symbol", symbol),
		slog.String("trigger", reason),
		slog.String("price", exit.String()),
		slog.String("realized_pnl", f.RealizedPnL.String()),
	)
}

// Buy fills qty at the current ask.
func (b *Broker) Buy(_ context.Context, symbol string, qty decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (string, error) {
	return b.order(symbol, domain.OrderSideBuy, qty, stopLoss, takeProfit)
}

// Sell fills qty at the current bid.
func (b *Broker) Sell(_ context.Context, symbol string, qty decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (string, error) {
	return b.order(symbol, domain.OrderSideSell, qty, stopLoss, takeProfit)
}

func (b *Broker) order(symbol string, side domain.OrderSide, qty decimal.Decimal, sl, tp *decimal.Decimal) (string, error) {
	if !qty.IsPositive() {
		return "", fmt.Errorf("sim: %s %s: non-positive quantity %s", side, symbol, qty)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[symbol]
	if !ok {
		return "", fmt.Errorf("sim: %s %s: no quote", side, symbol)
	}
	price := q.ask
	if side == domain.OrderSideSell {
		price = q.bid
	}
	f := b.fillLocked(symbol, side, qty, price, q.at, sl, tp)
	return f.OrderID, nil
}

// CloseAll flattens the position in symbol at the current quote. It is a
// no-op when there is no position.
func (b *Broker) CloseAll(_ context.Context, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok {
		return nil
	}
	q, ok := b.quotes[symbol]
	if !ok {
		return fmt.Errorf("sim: close %s: no quote", symbol)
	}
	side, price := domain.OrderSideSell, q.bid
	if p.qty.IsNegative() {
		side, price = domain.OrderSideBuy, q.ask
	}
	b.fillLocked(symbol, side, p.qty.Abs(), price, q.at, nil, nil)
	return nil
}

// fillLocked applies a fill to the ledger using average-cost accounting.
func (b *Broker) fillLocked(symbol string, side domain.OrderSide, qty, price decimal.Decimal, ts time.Time, sl, tp *decimal.Decimal) domain.Fill {
	b.seq++
	signed := qty
	if side == domain.OrderSideSell {
		signed = qty.Neg()
	}
	fee := qty.Mul(price).Mul(b.cfg.FeeBps).Div(bpsDivisor)
	realized := decimal.Zero
	closes := false

	p, ok := b.positions[symbol]
	switch {
	case !ok:
		b.positions[symbol] = &position{qty: signed, entry: price, stopLoss: sl, takeProfit: tp}
	case p.qty.Sign() == signed.Sign():
		total := p.qty.Abs().Add(qty)
		p.entry = p.qty.Abs().Mul(p.entry).Add(qty.Mul(price)).DivRound(total, 16)
		p.qty = p.qty.Add(signed)
		if sl != nil {
			p.stopLoss = sl
		}
		if tp != nil {
			p.takeProfit = tp
		}
	default:
		closing := decimal.Min(qty, p.qty.Abs())
		realized = price.Sub(p.entry).Mul(closing)
		if p.qty.IsNegative() {
			realized = realized.Neg()
		}
		closes = true
		p.qty = p.qty.Add(signed)
		switch {
		case p.qty.IsZero():
			delete(b.positions, symbol)
		case p.qty.Sign() == signed.Sign():
			// flipped through flat; the remainder opens at the fill price
			b.positions[symbol] = &position{qty: p.qty, entry: price, stopLoss: sl, takeProfit: tp}
		}
	}
	b.balance = b.balance.Add(realized).Sub(fee)

	f := domain.Fill{
		OrderID:        fmt.Sprintf("sim-%06d", b.seq),
		Symbol:         symbol,
		Side:           side,
		Quantity:       qty,
		Price:          price,
		Fee:            fee,
		RealizedPnL:    realized,
		ClosesPosition: closes,
		Time:           ts,
	}
	b.fills = append(b.fills, f)
	return f
}

// Positions returns open positions marked at the current mid.
func (b *Broker) Positions(_ context.Context) (map[string]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]domain.Position, len(b.positions))
	for sym, p := range b.positions {
		out[sym] = b.snapshotLocked(sym, p)
	}
	return out, nil
}

func (b *Broker) snapshotLocked(symbol string, p *position) domain.Position {
	mark := p.entry
	if q, ok := b.quotes[symbol]; ok {
		mark = q.mid()
	}
	side := domain.PositionLong
	if p.qty.IsNegative() {
		side = domain.PositionShort
	}
	return domain.Position{
		Symbol:        symbol,
		Side:          side,
		Quantity:      p.qty.Abs(),
		EntryPrice:    p.entry,
		CurrentPrice:  mark,
		UnrealizedPnL: mark.Sub(p.entry).Mul(p.qty),
	}
}

// Balance returns starting balance plus realized P&L net of fees.
func (b *Broker) Balance(_ context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

// Fills returns a copy of the fill log in execution order.
func (b *Broker) Fills() []domain.Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// UnrealizedPnL sums the marked P&L of open positions.
func (b *Broker) UnrealizedPnL() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := decimal.Zero
	for sym, p := range b.positions {
		total = total.Add(b.snapshotLocked(sym, p).UnrealizedPnL)
	}
	return total
}
