// Package analyzer detects whale activity in trade and book streams:
// oversized taker trades, resting walls, and lopsided books. Alerts are
// deduplicated per instrument and kept in a bounded ring for replay.
package analyzer

import (
	"fmt"
	"sync"
	"time"

	"perpflow/internal/config"
	"perpflow/internal/metrics"
	"perpflow/internal/model"
)

// Alert kinds.
const (
	KindWhaleTrade = "whale_trade"
	KindLargeTrade = "large_trade"
	KindWall       = "wall_detected"
	KindImbalance  = "imbalance"
)

const wallDepth = 20

// Alert is one detected order-flow event.
type Alert struct {
	Symbol    string  `json:"symbol"`
	Venue     string  `json:"venue"`
	Type      string  `json:"type"`
	Side      string  `json:"side"` // "buy" or "sell"
	ValueUSD  float64 `json:"value_usd"`
	Price     float64 `json:"price"`
	Timestamp float64 `json:"timestamp"`
	TimeStr   string  `json:"time_str"`
	Details   string  `json:"details"`
}

type dedupKey struct {
	kind string
	side model.Side
}

// Analyzer is shared across watchers. Dedup state is tracked per instrument
// and per (kind, side), so interleaved alert types never mask each other.
type Analyzer struct {
	cfg config.AlertConfig
	now func() time.Time

	mu     sync.Mutex
	ring   []Alert
	lastAt map[string]map[dedupKey]time.Time
}

func New(cfg config.AlertConfig) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		now:    time.Now,
		lastAt: make(map[string]map[dedupKey]time.Time),
	}
}

// InspectTrade checks one taker trade against the whale and large-trade
// thresholds. key identifies the instrument ("venue:symbol"). Returns the
// emitted alert, or nil when below threshold or deduplicated.
func (a *Analyzer) InspectTrade(key string, t *model.Trade) *Alert {
	value := t.ValueQuote()

	var kind, details string
	switch {
	case value >= a.cfg.WhaleTradeQuote:
		kind = KindWhaleTrade
		details = fmt.Sprintf("WHALE %s: $%.0f", sideUpper(t.Side), value)
	case value >= a.cfg.LargeTradeQuote:
		kind = KindLargeTrade
		details = fmt.Sprintf("Large %s: $%.0f", t.Side, value)
	default:
		return nil
	}

	return a.emit(key, Alert{
		Symbol:   t.Instrument,
		Venue:    t.Venue,
		Type:     kind,
		Side:     string(t.Side),
		ValueUSD: value,
		Price:    t.Price,
		Details:  details,
	}, dedupKey{kind, t.Side})
}

// InspectBook checks a book snapshot for walls and imbalance. ratio is the
// bid/ask quote volume ratio and lastPrice the best bid. Returns the alerts
// emitted, possibly none.
func (a *Analyzer) InspectBook(key string, snap *model.BookSnapshot, bidVol, askVol, ratio, lastPrice float64) []*Alert {
	var out []*Alert

	if price, value, ok := largestLevel(snap.Bids); ok && value >= a.cfg.WhaleTradeQuote {
		if al := a.emit(key, Alert{
			Symbol:   snap.Instrument,
			Venue:    snap.Venue,
			Type:     KindWall,
			Side:     string(model.Buy),
			ValueUSD: value,
			Price:    price,
			Details:  fmt.Sprintf("BUY WALL: $%.0f @ %g", value, price),
		}, dedupKey{KindWall, model.Buy}); al != nil {
			out = append(out, al)
		}
	}
	if price, value, ok := largestLevel(snap.Asks); ok && value >= a.cfg.WhaleTradeQuote {
		if al := a.emit(key, Alert{
			Symbol:   snap.Instrument,
			Venue:    snap.Venue,
			Type:     KindWall,
			Side:     string(model.Sell),
			ValueUSD: value,
			Price:    price,
			Details:  fmt.Sprintf("SELL WALL: $%.0f @ %g", value, price),
		}, dedupKey{KindWall, model.Sell}); al != nil {
			out = append(out, al)
		}
	}

	switch {
	case ratio >= a.cfg.ImbalanceRatio:
		if al := a.emit(key, Alert{
			Symbol:   snap.Instrument,
			Venue:    snap.Venue,
			Type:     KindImbalance,
			Side:     string(model.Buy),
			ValueUSD: bidVol,
			Price:    lastPrice,
			Details:  fmt.Sprintf("BUY PRESSURE: %.1fx more bids than asks", ratio),
		}, dedupKey{KindImbalance, model.Buy}); al != nil {
			out = append(out, al)
		}
	case ratio > 0 && ratio <= 1/a.cfg.ImbalanceRatio:
		if al := a.emit(key, Alert{
			Symbol:   snap.Instrument,
			Venue:    snap.Venue,
			Type:     KindImbalance,
			Side:     string(model.Sell),
			ValueUSD: askVol,
			Price:    lastPrice,
			Details:  fmt.Sprintf("SELL PRESSURE: %.1fx more asks than bids", 1/ratio),
		}, dedupKey{KindImbalance, model.Sell}); al != nil {
			out = append(out, al)
		}
	}

	return out
}

// emit applies the per-instrument dedup window and appends to the ring.
func (a *Analyzer) emit(key string, alert Alert, dk dedupKey) *Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	seen := a.lastAt[key]
	if seen == nil {
		seen = make(map[dedupKey]time.Time)
		a.lastAt[key] = seen
	}
	if last, ok := seen[dk]; ok && now.Sub(last) < a.cfg.DedupWindow.Std() {
		return nil
	}
	seen[dk] = now

	alert.Timestamp = float64(now.UnixNano()) / 1e9
	alert.TimeStr = now.Format("15:04:05")

	a.ring = append(a.ring, alert)
	if len(a.ring) > a.cfg.RingSize {
		a.ring = a.ring[len(a.ring)-a.cfg.RingSize:]
	}

	metrics.Alerts.WithLabelValues(alert.Type).Inc()
	return &alert
}

// Recent returns up to limit alerts, newest first.
func (a *Analyzer) Recent(limit int) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Alert, 0, n)
	for i := len(a.ring) - 1; i >= len(a.ring)-n; i-- {
		out = append(out, a.ring[i])
	}
	return out
}

// Forget drops dedup state for an instrument, typically on unwatch.
func (a *Analyzer) Forget(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.lastAt, key)
}

func largestLevel(levels []model.PriceLevel) (price, value float64, ok bool) {
	n := len(levels)
	if n > wallDepth {
		n = wallDepth
	}
	for _, lvl := range levels[:n] {
		if v := lvl.ValueQuote(); v > value {
			price, value, ok = lvl.Price, v, true
		}
	}
	return price, value, ok
}

func sideUpper(s model.Side) string {
	if s == model.Buy {
		return "BUY"
	}
	return "SELL"
}
