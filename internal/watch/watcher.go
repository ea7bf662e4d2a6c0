// Package watch runs one goroutine-per-instrument watchers. A watcher owns
// its venue connection, keeps the instrument's rolling state, feeds the
// signal engine and analyzer, and publishes stats and alerts to the hub.
package watch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"perpflow/internal/analyzer"
	"perpflow/internal/hub"
	"perpflow/internal/metrics"
	"perpflow/internal/model"
	"perpflow/internal/signal"
	"perpflow/internal/venue"
)

const (
	tradeWindow    = 60 * time.Second
	tradeWindowCap = 100
	eventBuffer    = 256

	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// Watcher streams one instrument on one venue.
type Watcher struct {
	key     string
	venue   string
	symbol  string
	adapter func() venue.Adapter

	hub      *hub.Hub
	analyzer *analyzer.Analyzer
	engine   *signal.Engine

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	stats  model.StatsSnapshot
	trades []model.FlowTrade
}

func newWatcher(venueName, symbol string, adapter func() venue.Adapter, h *hub.Hub, an *analyzer.Analyzer) *Watcher {
	return &Watcher{
		key:      venueName + ":" + symbol,
		venue:    venueName,
		symbol:   symbol,
		adapter:  adapter,
		hub:      h,
		analyzer: an,
		engine:   signal.NewEngine(symbol),
		done:     make(chan struct{}),
		stats: model.StatsSnapshot{
			Symbol: symbol,
			Venue:  venueName,
		},
	}
}

// Key is the watcher's instrument identifier, "venue:symbol".
func (w *Watcher) Key() string { return w.key }

// Stats returns a copy of the current instrument state.
func (w *Watcher) Stats() model.StatsSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// run owns the connection lifecycle. Lost connections reconnect with
// exponential backoff and jitter; a rejected subscription is recorded on the
// stats and ends the watcher. Engine state (imbalance history, cumulative
// delta) and the trade window live here, so they survive reconnects.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	attempt := 0
	for {
		out := make(chan venue.Event, eventBuffer)
		adapter := w.adapter()

		errc := make(chan error, 1)
		go func() { errc <- adapter.Run(ctx, out) }()

		delivered := false
		for ev := range out {
			delivered = true
			switch {
			case ev.Book != nil:
				w.onBook(ev.Book)
			case ev.Trade != nil:
				w.onTrade(ev.Trade)
			}
		}
		err := <-errc

		if err == nil || ctx.Err() != nil {
			return
		}

		var rejected *venue.SubscribeRejectedError
		if errors.As(err, &rejected) {
			log.Error().Str("key", w.key).Str("reason", rejected.Reason).Msg("subscription rejected")
			w.setError(err.Error())
			return
		}

		if delivered {
			attempt = 0
		}
		attempt++
		metrics.Reconnects.WithLabelValues(w.venue).Inc()

		delay := backoff(attempt)
		log.Warn().Err(err).Str("key", w.key).Dur("backoff", delay).Msg("stream lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoff doubles from 1s up to 30s with ±20% jitter.
func backoff(attempt int) time.Duration {
	d := float64(backoffBase) * math.Pow(2, float64(attempt-1))
	d = math.Min(d, float64(backoffMax))
	d *= 0.8 + 0.4*rand.Float64()
	return time.Duration(d)
}

func (w *Watcher) onBook(snap *model.BookSnapshot) {
	w.mu.Lock()

	w.pruneTrades(snap.ReceivedAt)
	window := make([]model.FlowTrade, len(w.trades))
	copy(window, w.trades)

	res := w.engine.Analyze(snap.Bids, snap.Asks, window)

	w.stats.MidPrice = res.Metrics.MidPrice
	w.stats.BidDepthQuote = res.Metrics.BidVolume
	w.stats.AskDepthQuote = res.Metrics.AskVolume
	w.stats.ImbalanceRatio = res.Metrics.ImbalanceRatio
	w.stats.SpreadBps = res.Metrics.SpreadBps
	w.stats.LargestBidQuote = res.Metrics.LargestBidUSD
	w.stats.LargestAskQuote = res.Metrics.LargestAskUSD
	w.stats.CumulativeDelta = w.engine.CumulativeDelta()
	w.stats.Pressure = pressure(res.Metrics.ImbalanceRatio)
	w.stats.LastUpdate = snap.ReceivedAt.Unix()
	w.stats.Signal = res
	if len(snap.Bids) > 0 {
		w.stats.LastPrice = snap.Bids[0].Price
	}
	stats := w.stats
	w.mu.Unlock()

	alerts := w.analyzer.InspectBook(w.key, snap,
		res.Metrics.BidVolume, res.Metrics.AskVolume,
		res.Metrics.ImbalanceRatio, stats.LastPrice)
	for _, al := range alerts {
		w.hub.BroadcastAlert(al)
	}

	w.hub.BroadcastStats(w.key, stats)
}

func (w *Watcher) onTrade(t *model.Trade) {
	w.mu.Lock()
	w.trades = append(w.trades, model.FlowTrade{
		ValueQuote: t.ValueQuote(),
		Side:       t.Side,
		OccurredAt: t.OccurredAt,
	})
	if len(w.trades) > tradeWindowCap {
		w.trades = w.trades[len(w.trades)-tradeWindowCap:]
	}
	w.mu.Unlock()

	if al := w.analyzer.InspectTrade(w.key, t); al != nil {
		w.hub.BroadcastAlert(al)
	}
}

// pruneTrades drops window entries older than 60s. Caller holds w.mu.
func (w *Watcher) pruneTrades(now time.Time) {
	cutoff := now.Add(-tradeWindow)
	keep := w.trades[:0]
	for _, t := range w.trades {
		if t.OccurredAt.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.trades = keep
}

func (w *Watcher) setError(msg string) {
	w.mu.Lock()
	w.stats.Error = msg
	stats := w.stats
	w.mu.Unlock()
	w.hub.BroadcastStats(w.key, stats)
}

func pressure(ratio float64) string {
	switch {
	case ratio > 1.2:
		return "BUY"
	case ratio < 0.8:
		return "SELL"
	}
	return "NEUTRAL"
}
