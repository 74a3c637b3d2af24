package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lvl(p, q string) domain.PriceLevel {
	return domain.PriceLevel{Price: d(p), Quantity: d(q)}
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestApplySnapshotOrdersLevels(t *testing.T) {
	b := New("BTCUSDT")
	err := b.ApplySnapshot(
		[]domain.PriceLevel{lvl("99", "1"), lvl("100", "2"), lvl("98", "3")},
		[]domain.PriceLevel{lvl("102", "1"), lvl("101", "4"), lvl("103", "0")},
		t0,
	)
	require.NoError(t, err)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("100")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("101")))

	bids := b.Depth(domain.BookSideBid, 0)
	require.Len(t, bids, 3)
	assert.True(t, bids[0].Price.Equal(d("100")))
	assert.True(t, bids[2].Price.Equal(d("98")))

	// zero-quantity level dropped
	nb, na := b.Len()
	assert.Equal(t, 3, nb)
	assert.Equal(t, 2, na)
	assert.Equal(t, t0, b.UpdatedAt())
}

func TestApplySnapshotCrossedLeavesStateUntouched(t *testing.T) {
	b := New("BTCUSDT")
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lvl("100", "1")},
		[]domain.PriceLevel{lvl("101", "1")},
		t0,
	))

	err := b.ApplySnapshot(
		[]domain.PriceLevel{lvl("105", "1"), lvl("90", "1")},
		[]domain.PriceLevel{lvl("104", "1")},
		t0.Add(time.Second),
	)
	require.ErrorIs(t, err, domain.ErrMalformedBook)

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	assert.True(t, bid.Price.Equal(d("100")))
	assert.True(t, ask.Price.Equal(d("101")))
	nb, na := b.Len()
	assert.Equal(t, 1, nb)
	assert.Equal(t, 1, na)
	assert.Equal(t, t0, b.UpdatedAt())
}

func TestApplySnapshotRejectsBadLevels(t *testing.T) {
	cases := map[string][]domain.PriceLevel{
		"negative quantity": {lvl("100", "-1")},
		"zero price":        {lvl("0", "1")},
		"negative price":    {lvl("-5", "1")},
	}
	for name, bids := range cases {
		t.Run(name, func(t *testing.T) {
			b := New("X")
			err := b.ApplySnapshot(bids, []domain.PriceLevel{lvl("200", "1")}, t0)
			require.ErrorIs(t, err, domain.ErrMalformedBook)
			nb, na := b.Len()
			assert.Zero(t, nb)
			assert.Zero(t, na)
		})
	}
}

func TestApplySnapshotBestBidBelowBestAsk(t *testing.T) {
	snapshots := []struct {
		bids, asks []domain.PriceLevel
	}{
		{[]domain.PriceLevel{lvl("1.01", "3")}, []domain.PriceLevel{lvl("1.02", "3")}},
		{[]domain.PriceLevel{lvl("50000", "0.1"), lvl("49999.5", "2")}, []domain.PriceLevel{lvl("50000.5", "1")}},
		{nil, []domain.PriceLevel{lvl("10", "1")}},
	}
	for _, s := range snapshots {
		b := New("X")
		require.NoError(t, b.ApplySnapshot(s.bids, s.asks, t0))
		bid, okb := b.BestBid()
		ask, oka := b.BestAsk()
		if okb && oka {
			assert.True(t, bid.Price.LessThan(ask.Price))
		}
	}
}

func TestApplyUpdate(t *testing.T) {
	b := New("BTCUSDT")
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lvl("100", "1"), lvl("99", "1")},
		[]domain.PriceLevel{lvl("101", "1")},
		t0,
	))

	require.NoError(t, b.ApplyUpdate(domain.BookSideBid, d("100.5"), d("2"), t0))
	bid, _ := b.BestBid()
	assert.True(t, bid.Price.Equal(d("100.5")))

	// upsert existing level
	require.NoError(t, b.ApplyUpdate(domain.BookSideBid, d("99"), d("7"), t0))
	levels := b.Depth(domain.BookSideBid, 0)
	require.Len(t, levels, 3)
	assert.True(t, levels[2].Quantity.Equal(d("7")))

	// zero removes
	require.NoError(t, b.ApplyUpdate(domain.BookSideBid, d("100.5"), decimal.Zero, t0))
	bid, _ = b.BestBid()
	assert.True(t, bid.Price.Equal(d("100")))

	// removing a missing level is a no-op
	require.NoError(t, b.ApplyUpdate(domain.BookSideAsk, d("150"), decimal.Zero, t0))
}

func TestApplyUpdateCrossedIsReported(t *testing.T) {
	b := New("X")
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lvl("100", "1")},
		[]domain.PriceLevel{lvl("101", "1")},
		t0,
	))
	err := b.ApplyUpdate(domain.BookSideBid, d("101"), d("1"), t0)
	require.ErrorIs(t, err, domain.ErrMalformedBook)

	// a subsequent update that uncrosses clears the condition
	require.NoError(t, b.ApplyUpdate(domain.BookSideBid, d("101"), decimal.Zero, t0))

	require.ErrorIs(t, b.ApplyUpdate(domain.BookSideAsk, d("101"), d("-1"), t0), domain.ErrMalformedBook)
	require.ErrorIs(t, b.ApplyUpdate("mid", d("101"), d("1"), t0), domain.ErrMalformedBook)
}

func TestMidAndSpread(t *testing.T) {
	b := New("X")
	_, ok := b.Mid()
	assert.False(t, ok)

	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lvl("100", "1")},
		[]domain.PriceLevel{lvl("101", "1")},
		t0,
	))
	mid, ok := b.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100.5")))
	spread, ok := b.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(d("1")))
}
