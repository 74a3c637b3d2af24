package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrendFilterNoneUntilSlowWindowFilled(t *testing.T) {
	f := NewTrendFilter(10, 30)
	for i := 1; i <= 30; i++ {
		trend, changed := f.Update(decimal.NewFromInt(int64(i)))
		require.Equalf(t, TrendNone, trend, "bar %d", i)
		require.Falsef(t, changed, "bar %d", i)
	}
	_, _, ok := f.Averages()
	assert.False(t, ok)

	trend, changed := f.Update(decimal.NewFromInt(31))
	assert.Equal(t, TrendBullish, trend)
	assert.True(t, changed)

	fast, slow, ok := f.Averages()
	require.True(t, ok)
	assert.True(t, fast.Equal(decimal.RequireFromString("26.5")), fast.String())
	assert.True(t, slow.Equal(decimal.RequireFromString("16.5")), slow.String())
}

func TestTrendFilterBullishExactlyAtFirstCross(t *testing.T) {
	f := NewTrendFilter(10, 30)
	flat := decimal.NewFromInt(100)
	for i := 0; i < 40; i++ {
		trend, _ := f.Update(flat)
		require.Equal(t, TrendNone, trend, "tie must stay none")
	}

	trend, changed := f.Update(decimal.NewFromInt(101))
	assert.Equal(t, TrendBullish, trend)
	assert.True(t, changed)

	// continuing above the slow average is not a new transition
	trend, changed = f.Update(decimal.NewFromInt(101))
	assert.Equal(t, TrendBullish, trend)
	assert.False(t, changed)
}

func TestTrendFilterTurnsBearish(t *testing.T) {
	f := NewTrendFilter(3, 5)
	for _, c := range []int64{10, 11, 12, 13, 14, 15} {
		f.Update(decimal.NewFromInt(c))
	}
	require.Equal(t, TrendBullish, f.Trend())

	var transitions []Trend
	for _, c := range []int64{9, 8, 7} {
		if trend, changed := f.Update(decimal.NewFromInt(c)); changed {
			transitions = append(transitions, trend)
		}
	}
	assert.Equal(t, []Trend{TrendBearish}, transitions)
}

func TestTrendFilterHistoryBounded(t *testing.T) {
	f := NewTrendFilter(2, 4)
	for i := 0; i < 100; i++ {
		f.Update(decimal.NewFromInt(int64(i)))
	}
	assert.Equal(t, 5, f.Len())
}
