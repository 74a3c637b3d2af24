package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

func TestImbalanceExactRatio(t *testing.T) {
	b := New("X")
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lvl("50", "2"), lvl("40", "5")},
		[]domain.PriceLevel{lvl("100", "1")},
		t0,
	))
	// depth 1: only the 50 bid counts
	imb := b.Imbalance(1)
	require.True(t, imb.Defined)
	assert.True(t, imb.Ratio.Equal(d("1")), imb.Ratio.String())

	// 99*2 + 51*2 = 300 against 100*1
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lvl("99", "2"), lvl("51", "2")},
		[]domain.PriceLevel{lvl("100", "1")},
		t0,
	))
	imb = b.Imbalance(5)
	require.True(t, imb.Defined)
	assert.True(t, imb.BidNotional.Equal(d("300")))
	assert.True(t, imb.AskNotional.Equal(d("100")))
	assert.True(t, imb.Ratio.Equal(d("3")), imb.Ratio.String())
}

func TestImbalanceUndefinedWhenNoAsks(t *testing.T) {
	b := New("X")
	require.NoError(t, b.ApplySnapshot([]domain.PriceLevel{lvl("100", "3")}, nil, t0))

	imb := b.Imbalance(10)
	assert.False(t, imb.Defined)
	assert.True(t, imb.AskNotional.IsZero())
	assert.True(t, imb.BidNotional.Equal(d("300")))

	empty := New("Y")
	assert.False(t, empty.Imbalance(5).Defined)
}

func TestImbalanceDepthLimitsLevels(t *testing.T) {
	b := New("X")
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lvl("10", "1"), lvl("9", "1"), lvl("8", "1")},
		[]domain.PriceLevel{lvl("11", "1"), lvl("12", "1"), lvl("13", "1")},
		t0,
	))
	imb := b.Imbalance(2)
	assert.True(t, imb.BidNotional.Equal(d("19")))
	assert.True(t, imb.AskNotional.Equal(d("23")))

	all := b.Imbalance(0)
	assert.True(t, all.BidNotional.Equal(d("27")))
	assert.True(t, all.AskNotional.Equal(d("36")))
}
