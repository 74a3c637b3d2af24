package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/feed"
	"github.com/alanyoungcy/imbalancebot/internal/orderbook"
)

const maxLineSize = 16 << 20

// Clock paces playback.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Marker receives the recorded quote before each event is delivered.
type Marker interface {
	Mark(symbol string, bid, ask decimal.Decimal, ts time.Time)
}

// Stats counts what happened to the recorded input.
type Stats struct {
	Files       int   `json:"files"`
	FileErrors  int   `json:"file_errors"`
	Lines       int64 `json:"lines"`
	Delivered   int64 `json:"delivered"`
	Malformed   int64 `json:"malformed"`
	OutOfOrder  int64 `json:"out_of_order"`
	OutOfWindow int64 `json:"out_of_window"`
	Filtered    int64 `json:"filtered"`
	DataQuality int64 `json:"data_quality"`
	// ImbalanceMismatch counts snapshots whose recorded imbalance ratio
	// differs from the one recomputed from their levels.
	ImbalanceMismatch int64 `json:"imbalance_mismatch"`
}

// FeedConfig selects and paces recorded records.
type FeedConfig struct {
	// Start and End bound the window [Start, End). Zero values are open.
	Start time.Time
	End   time.Time
	// Symbols restricts playback. Empty means every symbol.
	Symbols []string
	// Speed divides recorded time gaps. Zero or negative disables pacing.
	Speed float64
	// ImbalanceDepth is the depth used to recompute a recorded imbalance
	// block for comparison.
	ImbalanceDepth int
}

// Feed is a domain.Feed over recorded files. It is driven from a single
// goroutine.
type Feed struct {
	cfg    FeedConfig
	src    Source
	marker Marker
	clock  Clock
	logger *slog.Logger

	symbols  map[string]bool
	prepared bool
	files    []string
	idx      int
	cur      io.ReadCloser
	curName  string
	scanner  *bufio.Scanner
	books    map[string]*orderbook.Book
	last     time.Time
	lastPace time.Time
	stats    Stats
}

var _ domain.Feed = (*Feed)(nil)

// NewFeed creates a replay feed. marker may be nil.
func NewFeed(cfg FeedConfig, src Source, marker Marker, logger *slog.Logger) *Feed {
	f := &Feed{
		cfg:    cfg,
		src:    src,
		marker: marker,
		clock:  realClock{},
		logger: logger.With(slog.String("component", "replay_feed")),
		books:  make(map[string]*orderbook.Book),
	}
	if len(cfg.Symbols) > 0 {
		f.symbols = make(map[string]bool, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			f.symbols[s] = true
		}
	}
	return f
}

// WithClock swaps the pacing clock.
func (f *Feed) WithClock(c Clock) *Feed {
	if c != nil {
		f.clock = c
	}
	return f
}

// Stats returns the input counters so far.
func (f *Feed) Stats() Stats { return f.stats }

// Prepare lists the source files. It is called by Connect and may be
// called earlier to surface listing errors.
func (f *Feed) Prepare(ctx context.Context) error {
	if f.prepared {
		return nil
	}
	files, err := f.src.List(ctx)
	if err != nil {
		return err
	}
	f.files = files
	f.stats.Files = len(files)
	f.prepared = true
	f.logger.Info("replay files listed", slog.Int("files", len(files)))
	return nil
}

func (f *Feed) Connect(ctx context.Context) error { return f.Prepare(ctx) }

func (f *Feed) Close() error {
	if f.cur == nil {
		return nil
	}
	err := f.cur.Close()
	f.cur, f.scanner = nil, nil
	return err
}

// Next returns the next valid in-window record. It returns io.EOF when the
// files are exhausted or the first record at or after End is reached.
func (f *Feed) Next(ctx context.Context) (domain.MarketEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.MarketEvent{}, err
		}
		line, err := f.nextLine(ctx)
		if err != nil {
			return domain.MarketEvent{}, err
		}

		rec, err := feed.Decode(line)
		if err != nil {
			f.stats.Malformed++
			f.logger.Debug("malformed record skipped", slog.String("file", f.curName), slog.String("error", err.Error()))
			continue
		}
		ev := rec.Event
		if f.symbols != nil && !f.symbols[ev.Symbol] {
			f.stats.Filtered++
			continue
		}
		if ev.Time.Before(f.last) {
			f.stats.OutOfOrder++
			f.logger.Debug("out of order record skipped",
				slog.String("symbol", ev.Symbol),
				slog.Time("time", ev.Time),
				slog.Time("previous", f.last),
			)
			continue
		}
		f.last = ev.Time
		if !f.cfg.Start.IsZero() && ev.Time.Before(f.cfg.Start) {
			f.stats.OutOfWindow++
			continue
		}
		if !f.cfg.End.IsZero() && !ev.Time.Before(f.cfg.End) {
			f.stats.OutOfWindow++
			f.closeCurrent()
			f.idx = len(f.files)
			return domain.MarketEvent{}, io.EOF
		}

		if err := f.pace(ctx, ev.Time); err != nil {
			return domain.MarketEvent{}, err
		}
		f.observe(rec)
		f.stats.Delivered++
		return ev, nil
	}
}

func (f *Feed) pace(ctx context.Context, ts time.Time) error {
	if f.cfg.Speed <= 0 {
		return nil
	}
	prev := f.lastPace
	f.lastPace = ts
	if prev.IsZero() {
		return nil
	}
	gap := ts.Sub(prev)
	if gap <= 0 {
		return nil
	}
	return f.clock.Sleep(ctx, time.Duration(float64(gap)/f.cfg.Speed))
}

// observe maintains shadow books so the broker can be marked at the
// recorded quote and recorded imbalance blocks can be compared.
func (f *Feed) observe(rec feed.Record) {
	ev := rec.Event
	if ev.Kind == domain.EventBar {
		if f.marker != nil {
			f.marker.Mark(ev.Symbol, ev.Bar.Close, ev.Bar.Close, ev.Time)
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
		f.stats.DataQuality++
		return
	}

	bid, okb := book.BestBid()
	ask, oka := book.BestAsk()
	if okb && oka && f.marker != nil {
		f.marker.Mark(ev.Symbol, bid.Price, ask.Price, ev.Time)
	}

	if rec.Imbalance != nil && rec.Imbalance.Ratio != nil {
		depth := f.cfg.ImbalanceDepth
		if rec.Imbalance.Depth > 0 {
			depth = rec.Imbalance.Depth
		}
		imb := book.Imbalance(depth)
		if !imb.Defined || !imb.Ratio.Sub(*rec.Imbalance.Ratio).Abs().LessThan(imbalanceTolerance) {
			f.stats.ImbalanceMismatch++
		}
	}
}

var imbalanceTolerance = decimal.New(1, -6)

func (f *Feed) nextLine(ctx context.Context) ([]byte, error) {
	for {
		if f.scanner == nil {
			if f.idx >= len(f.files) {
				return nil, io.EOF
			}
			name := f.files[f.idx]
			f.idx++
			rc, err := f.src.Open(ctx, name)
			if err != nil {
				f.stats.FileErrors++
				f.logger.Warn("replay file skipped", slog.String("file", name), slog.String("error", err.Error()))
				continue
			}
			f.cur, f.curName = rc, name
			f.scanner = bufio.NewScanner(rc)
			f.scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		}

		if f.scanner.Scan() {
			line := bytes.TrimSpace(f.scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			f.stats.Lines++
			return line, nil
		}
		if err := f.scanner.Err(); err != nil {
			f.stats.FileErrors++
			f.logger.Warn("replay file read failed", slog.String("file", f.curName), slog.String("error", err.Error()))
		}
		f.closeCurrent()
	}
}

func (f *Feed) closeCurrent() {
	if f.cur != nil {
		_ = f.cur.Close()
	}
	f.cur, f.scanner, f.curName = nil, nil, ""
}
