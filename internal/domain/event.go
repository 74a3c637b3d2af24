package domain

import "time"

// EventKind distinguishes the market events a feed can deliver.
type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventUpdate   EventKind = "update"
	EventBar      EventKind = "bar"
)

// MarketEvent is one unit of market data delivered by a Feed.
type MarketEvent struct {
	Kind    EventKind
	Symbol  string
	Time    time.Time
	Bids    []PriceLevel
	Asks    []PriceLevel
	Updates []LevelUpdate
	Bar     *Bar
}
