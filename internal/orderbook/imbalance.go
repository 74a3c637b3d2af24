package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// ratioPrecision is the number of decimal places kept when dividing
// notionals.
const ratioPrecision = 16

// Imbalance is the bid/ask notional ratio over the top levels of a book.
// When the ask notional is zero the ratio is undefined and Defined is
// false; Ratio must not be read in that case. Callers check Defined
// rather than comparing Ratio against a default.
type Imbalance struct {
	Ratio       decimal.Decimal
	BidNotional decimal.Decimal
	AskNotional decimal.Decimal
	Defined     bool
}

// Imbalance sums price*quantity over the top depth levels of each side and
// returns bid_notional / ask_notional. depth <= 0 uses every level.
func (b *Book) Imbalance(depth int) Imbalance {
	bidN := notional(b.Depth(domain.BookSideBid, depth))
	askN := notional(b.Depth(domain.BookSideAsk, depth))
	if askN.IsZero() {
		return Imbalance{BidNotional: bidN, AskNotional: askN}
	}
	return Imbalance{
		Ratio:       bidN.DivRound(askN, ratioPrecision),
		BidNotional: bidN,
		AskNotional: askN,
		Defined:     true,
	}
}

func notional(levels []domain.PriceLevel) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Price.Mul(l.Quantity))
	}
	return sum
}
