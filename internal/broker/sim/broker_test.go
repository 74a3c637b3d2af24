package sim

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newBroker(fee string) *Broker {
	return New(Config{StartingBalance: d("10000"), FeeBps: d(fee)}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOrderWithoutQuoteFails(t *testing.T) {
	b := newBroker("0")
	_, err := b.Buy(context.Background(), "BTC", d("1"), nil, nil)
	require.Error(t, err)
	_, err = b.Buy(context.Background(), "BTC", decimal.Zero, nil, nil)
	require.Error(t, err)
}

func TestRoundTripLong(t *testing.T) {
	ctx := context.Background()
	b := newBroker("0")
	b.Mark("BTC", d("100"), d("101"), t0)

	id, err := b.Buy(ctx, "BTC", d("2"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "sim-000001", id)

	pos, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Contains(t, pos, "BTC")
	assert.Equal(t, domain.PositionLong, pos["BTC"].Side)
	assert.True(t, pos["BTC"].EntryPrice.Equal(d("101")))
	// marked at mid 100.5
	assert.True(t, pos["BTC"].UnrealizedPnL.Equal(d("-1")), pos["BTC"].UnrealizedPnL.String())

	b.Mark("BTC", d("110"), d("111"), t0.Add(time.Minute))
	require.NoError(t, b.CloseAll(ctx, "BTC"))

	pos, _ = b.Positions(ctx)
	assert.Empty(t, pos)

	bal, _ := b.Balance(ctx)
	assert.True(t, bal.Equal(d("10018")), bal.String())

	fills := b.Fills()
	require.Len(t, fills, 2)
	assert.False(t, fills[0].ClosesPosition)
	assert.True(t, fills[1].ClosesPosition)
	assert.Equal(t, domain.OrderSideSell, fills[1].Side)
	assert.True(t, fills[1].Price.Equal(d("110")))
	assert.True(t, fills[1].RealizedPnL.Equal(d("18")))
	assert.Equal(t, t0.Add(time.Minute), fills[1].Time)
}

func TestShortAndFees(t *testing.T) {
	ctx := context.Background()
	b := newBroker("10")
	b.Mark("ETH", d("200"), d("201"), t0)

	_, err := b.Sell(ctx, "ETH", d("1"), nil, nil)
	require.NoError(t, err)
	b.Mark("ETH", d("189"), d("190"), t0)
	_, err = b.Buy(ctx, "ETH", d("1"), nil, nil)
	require.NoError(t, err)

	fills := b.Fills()
	require.Len(t, fills, 2)
	assert.True(t, fills[0].Fee.Equal(d("0.2")))
	assert.True(t, fills[1].Fee.Equal(d("0.19")))
	assert.True(t, fills[1].RealizedPnL.Equal(d("10")))

	bal, _ := b.Balance(ctx)
	assert.True(t, bal.Equal(d("10009.61")), bal.String())
}

func TestAveragingAndFlip(t *testing.T) {
	ctx := context.Background()
	b := newBroker("0")
	b.Mark("BTC", d("99"), d("100"), t0)
	_, _ = b.Buy(ctx, "BTC", d("1"), nil, nil)
	b.Mark("BTC", d("109"), d("110"), t0)
	_, _ = b.Buy(ctx, "BTC", d("1"), nil, nil)

	pos, _ := b.Positions(ctx)
	assert.True(t, pos["BTC"].EntryPrice.Equal(d("105")))
	assert.True(t, pos["BTC"].Quantity.Equal(d("2")))

	// sell 3 at 109: closes 2 (+8), opens 1 short at 109
	_, err := b.Sell(ctx, "BTC", d("3"), nil, nil)
	require.NoError(t, err)
	pos, _ = b.Positions(ctx)
	assert.Equal(t, domain.PositionShort, pos["BTC"].Side)
	assert.True(t, pos["BTC"].Quantity.Equal(d("1")))
	assert.True(t, pos["BTC"].EntryPrice.Equal(d("109")))

	fills := b.Fills()
	assert.True(t, fills[2].RealizedPnL.Equal(d("8")))
}

func TestStopLossTriggersOnMark(t *testing.T) {
	ctx := context.Background()
	b := newBroker("0")
	b.Mark("BTC", d("99"), d("100"), t0)
	sl, tp := d("95"), d("120")
	_, err := b.Buy(ctx, "BTC", d("1"), &sl, &tp)
	require.NoError(t, err)

	b.Mark("BTC", d("96"), d("97"), t0.Add(time.Minute))
	pos, _ := b.Positions(ctx)
	require.Len(t, pos, 1)

	b.Mark("BTC", d("94"), d("95"), t0.Add(2*time.Minute))
	pos, _ = b.Positions(ctx)
	assert.Empty(t, pos)
	fills := b.Fills()
	require.Len(t, fills, 2)
	assert.True(t, fills[1].RealizedPnL.Equal(d("-6")))
}

func TestCloseAllWithoutPositionIsNoop(t *testing.T) {
	b := newBroker("0")
	require.NoError(t, b.CloseAll(context.Background(), "BTC"))
	assert.Empty(t, b.Fills())
}
