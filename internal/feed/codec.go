package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// ErrMalformedRecord is returned by Decode for records that cannot be
// turned into a market event.
var ErrMalformedRecord = errors.New("malformed record")

// RecordedImbalance is the imbalance block some recorders attach to a
// snapshot. It is informational and never drives decisions.
type RecordedImbalance struct {
	Ratio       *decimal.Decimal `json:"ratio,omitempty"`
	BidNotional *decimal.Decimal `json:"bid_notional,omitempty"`
	AskNotional *decimal.Decimal `json:"ask_notional,omitempty"`
	Depth       int              `json:"depth,omitempty"`
}

// Record is one decoded line of recorded or streamed market data.
type Record struct {
	Event     domain.MarketEvent
	Imbalance *RecordedImbalance
}

type wireRecord struct {
	Type      string               `json:"type"`
	Symbol    string               `json:"symbol"`
	Timestamp string               `json:"timestamp"`
	Bids      []domain.PriceLevel  `json:"bids"`
	Asks      []domain.PriceLevel  `json:"asks"`
	Updates   []domain.LevelUpdate `json:"updates"`
	Imbalance *RecordedImbalance   `json:"imbalance"`

	Start  string           `json:"start"`
	Open   *decimal.Decimal `json:"open"`
	High   *decimal.Decimal `json:"high"`
	Low    *decimal.Decimal `json:"low"`
	Close  *decimal.Decimal `json:"close"`
	Volume *decimal.Decimal `json:"volume"`
	Gap    bool             `json:"gap"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an RFC 3339 / ISO-8601 timestamp. Values without a
// zone are read as UTC. The result is always UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Decode parses one JSON record. The type field defaults to snapshot.
// Snapshots need at least one level; bars need open, high, low, close and
// volume; updates need at least one level change.
func Decode(line []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if w.Symbol == "" {
		return Record{}, fmt.Errorf("%w: missing symbol", ErrMalformedRecord)
	}
	if w.Timestamp == "" {
		return Record{}, fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	ev := domain.MarketEvent{Symbol: w.Symbol, Time: ts}
	switch strings.ToLower(w.Type) {
	case "", string(domain.EventSnapshot), "book":
		if len(w.Bids) == 0 && len(w.Asks) == 0 {
			return Record{}, fmt.Errorf("%w: snapshot without levels", ErrMalformedRecord)
		}
		if err := checkLevels(w.Bids, w.Asks); err != nil {
			return Record{}, err
		}
		ev.Kind = domain.EventSnapshot
		ev.Bids, ev.Asks = w.Bids, w.Asks
	case string(domain.EventUpdate):
		if len(w.Updates) == 0 {
			return Record{}, fmt.Errorf("%w: update without changes", ErrMalformedRecord)
		}
		for _, u := range w.Updates {
			if u.Side != domain.BookSideBid && u.Side != domain.BookSideAsk {
				return Record{}, fmt.Errorf("%w: update side %q", ErrMalformedRecord, u.Side)
			}
		}
		ev.Kind = domain.EventUpdate
		ev.Updates = w.Updates
	case string(domain.EventBar):
		bar, err := decodeBar(w, ts)
		if err != nil {
			return Record{}, err
		}
		ev.Kind = domain.EventBar
		ev.Bar = &bar
	default:
		return Record{}, fmt.Errorf("%w: unknown type %q", ErrMalformedRecord, w.Type)
	}
	return Record{Event: ev, Imbalance: w.Imbalance}, nil
}

func checkLevels(sides ...[]domain.PriceLevel) error {
	for _, levels := range sides {
		for _, l := range levels {
			if !l.Price.IsPositive() {
				return fmt.Errorf("%w: non-positive price %s", ErrMalformedRecord, l.Price)
			}
			if l.Quantity.IsNegative() {
				return fmt.Errorf("%w: negative quantity %s at %s", ErrMalformedRecord, l.Quantity, l.Price)
			}
		}
	}
	return nil
}

func decodeBar(w wireRecord, end time.Time) (domain.Bar, error) {
	if w.Open == nil || w.High == nil || w.Low == nil || w.Close == nil || w.Volume == nil {
		return domain.Bar{}, fmt.Errorf("%w: bar needs open, high, low, close and volume", ErrMalformedRecord)
	}
	start := end
	if w.Start != "" {
		t, err := ParseTimestamp(w.Start)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("%w: bar start: %w", ErrMalformedRecord, err)
		}
		start = t
	}
	if w.High.LessThan(*w.Low) || w.Volume.IsNegative() || start.After(end) {
		return domain.Bar{}, fmt.Errorf("%w: inconsistent bar", ErrMalformedRecord)
	}
	return domain.Bar{
		Symbol: w.Symbol,
		Start:  start,
		End:    end,
		Open:   *w.Open,
		High:   *w.High,
		Low:    *w.Low,
		Close:  *w.Close,
		Volume: *w.Volume,
		Gap:    w.Gap,
	}, nil
}
