package model

import "time"

// MaxMetricDepth caps how many levels per side the derived metrics consider.
// Venues that ship fewer levels (BloFin books5) simply degrade to what they
// provide.
const MaxMetricDepth = 20

// Side is the taker-aggressor side of a trade: Buy lifted an ask,
// Sell hit a bid.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// PriceLevel is a single resting bid or ask level.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// ValueQuote is the level's notional in quote currency.
func (l PriceLevel) ValueQuote() float64 {
	return l.Price * l.Quantity
}

// BookSnapshot is a full replacement of the top levels of an instrument's
// book. Bids are sorted descending by price, asks ascending, as delivered
// by every supported venue.
type BookSnapshot struct {
	Instrument string
	Venue      string
	Bids       []PriceLevel
	Asks       []PriceLevel
	ReceivedAt time.Time
}

// Trade is a single executed trade.
type Trade struct {
	Instrument string
	Venue      string
	Price      float64
	Quantity   float64
	Side       Side
	OccurredAt time.Time
}

// ValueQuote is the trade's notional in quote currency.
func (t Trade) ValueQuote() float64 {
	return t.Price * t.Quantity
}

// FlowTrade is the reduced trade record kept in the per-instrument sliding
// window for flow analysis. One shape for both the writer (trade path) and
// the reader (signal path).
type FlowTrade struct {
	ValueQuote float64
	Side       Side
	OccurredAt time.Time
}
