package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

func fill(symbol string, side domain.OrderSide, qty, price, fee, realized string) domain.Fill {
	return domain.Fill{
		Symbol: symbol, Side: side, Quantity: d(qty), Price: d(price),
		Fee: d(fee), RealizedPnL: d(realized), ClosesPosition: realized != "0",
	}
}

func TestComputeMetricsRoundTrips(t *testing.T) {
	fills := []domain.Fill{
		fill("BTC", domain.OrderSideBuy, "1", "100", "0.1", "0"),
		fill("BTC", domain.OrderSideSell, "1", "110", "0.1", "10"), // +9.8
		fill("ETH", domain.OrderSideSell, "2", "50", "0.1", "0"),
		fill("ETH", domain.OrderSideBuy, "2", "53", "0.1", "-6"), // -6.2
		fill("BTC", domain.OrderSideBuy, "1", "100", "0", "0"),
	}

	m := ComputeMetrics(fills, d("1000"))
	assert.Equal(t, 5, m.Fills)
	assert.Equal(t, 2, m.Trades)
	assert.Equal(t, 1, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.Equal(t, 1, m.OpenTrades)
	assert.True(t, m.WinRate.Equal(d("0.5")))
	assert.True(t, m.Fees.Equal(d("0.4")))
	assert.True(t, m.TotalPnL.Equal(d("3.6")), m.TotalPnL.String())
	assert.True(t, m.PnLPerTrade.Equal(d("1.8")))
	assert.True(t, m.FinalEquity.Equal(d("1003.6")))

	// Peak 1009.8 after the BTC exit, trough 1003.6 after the ETH exit.
	assert.True(t, m.MaxDrawdown.Equal(d("6.2")), m.MaxDrawdown.String())
	assert.True(t, m.MaxDrawdownPct.Equal(d("6.2").DivRound(d("1009.8"), 8)))
}

func TestComputeMetricsFlipClosesTrade(t *testing.T) {
	fills := []domain.Fill{
		fill("BTC", domain.OrderSideBuy, "1", "100", "0", "0"),
		fill("BTC", domain.OrderSideSell, "3", "95", "0", "-5"),
		fill("BTC", domain.OrderSideBuy, "2", "90", "0", "10"),
	}
	m := ComputeMetrics(fills, d("1000"))
	assert.Equal(t, 2, m.Trades)
	assert.Equal(t, 1, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.Zero(t, m.OpenTrades)
	assert.True(t, m.TotalPnL.Equal(d("5")))
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil, d("500"))
	assert.Zero(t, m.Trades)
	assert.True(t, m.WinRate.IsZero())
	assert.True(t, m.FinalEquity.Equal(d("500")))

	m = m.WithUnrealized(d("-2.5"))
	assert.True(t, m.FinalEquity.Equal(d("497.5")))
	assert.True(t, m.UnrealizedPnL.Equal(d("-2.5")))
}
