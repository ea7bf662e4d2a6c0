package watch

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"perpflow/internal/analyzer"
	"perpflow/internal/catalog"
	"perpflow/internal/config"
	"perpflow/internal/hub"
	"perpflow/internal/metrics"
	"perpflow/internal/model"
	"perpflow/internal/venue"
	"perpflow/internal/venue/bingx"
	"perpflow/internal/venue/blofin"
	"perpflow/internal/venue/hyperliquid"
)

var (
	ErrUnknownVenue      = errors.New("watch: unknown venue")
	ErrUnknownInstrument = errors.New("watch: instrument not in catalog")
)

// Registry owns the active watchers. Watch is idempotent per instrument and
// gated on the contract catalog.
type Registry struct {
	ctx      context.Context
	urls     config.VenueEndpoints
	catalog  *catalog.Catalog
	hub      *hub.Hub
	analyzer *analyzer.Analyzer

	// AdapterFactory overrides the venue adapter construction, for tests.
	AdapterFactory func(venueName, symbol string) venue.Adapter

	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewRegistry wires a registry. ctx bounds the lifetime of every watcher it
// starts.
func NewRegistry(ctx context.Context, urls config.VenueEndpoints, cat *catalog.Catalog, h *hub.Hub, an *analyzer.Analyzer) *Registry {
	return &Registry{
		ctx:      ctx,
		urls:     urls,
		catalog:  cat,
		hub:      h,
		analyzer: an,
		watchers: make(map[string]*Watcher),
	}
}

// Watch starts a watcher for venue:symbol. The second return is true when a
// watcher already existed.
func (r *Registry) Watch(venueName, symbol string) (string, bool, error) {
	if !venue.Known(venueName) {
		return "", false, ErrUnknownVenue
	}
	key := venueName + ":" + symbol

	if _, ok := r.catalog.Get(venueName, symbol); !ok {
		return key, false, ErrUnknownInstrument
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watchers[key]; ok {
		return key, true, nil
	}

	w := newWatcher(venueName, symbol, r.adapterFactory(venueName, symbol), r.hub, r.analyzer)
	ctx, cancel := context.WithCancel(r.ctx)
	w.cancel = cancel
	go w.run(ctx)

	r.watchers[key] = w
	metrics.Watchers.Set(float64(len(r.watchers)))
	log.Info().Str("key", key).Msg("watcher started")
	return key, false, nil
}

// Unwatch stops and removes a watcher. Returns false when none exists.
func (r *Registry) Unwatch(venueName, symbol string) bool {
	key := venueName + ":" + symbol

	r.mu.Lock()
	w, ok := r.watchers[key]
	if ok {
		delete(r.watchers, key)
	}
	n := len(r.watchers)
	r.mu.Unlock()

	if !ok {
		return false
	}

	w.cancel()
	<-w.done
	r.analyzer.Forget(key)
	metrics.Watchers.Set(float64(n))
	log.Info().Str("key", key).Msg("watcher stopped")
	return true
}

// Get returns the watcher for venue:symbol, if any.
func (r *Registry) Get(venueName, symbol string) (*Watcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchers[venueName+":"+symbol]
	return w, ok
}

// List snapshots the stats of every active watcher, ordered by key.
func (r *Registry) List() []model.StatsSnapshot {
	r.mu.Lock()
	watchers := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	r.mu.Unlock()

	sort.Slice(watchers, func(i, j int) bool {
		return watchers[i].key < watchers[j].key
	})

	out := make([]model.StatsSnapshot, 0, len(watchers))
	for _, w := range watchers {
		out = append(out, w.Stats())
	}
	return out
}

// Stop cancels all watchers and waits for them to finish.
func (r *Registry) Stop() {
	r.mu.Lock()
	watchers := make([]*Watcher, 0, len(r.watchers))
	for key, w := range r.watchers {
		watchers = append(watchers, w)
		delete(r.watchers, key)
	}
	r.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
		<-w.done
	}
	metrics.Watchers.Set(0)
}

func (r *Registry) adapterFactory(venueName, symbol string) func() venue.Adapter {
	return func() venue.Adapter {
		if r.AdapterFactory != nil {
			return r.AdapterFactory(venueName, symbol)
		}
		switch venueName {
		case venue.BloFin:
			return blofin.New(r.urls.BloFinWS, symbol)
		case venue.Hyperliquid:
			return hyperliquid.New(r.urls.HyperliquidWS, symbol)
		default:
			return bingx.New(r.urls.BingXWS, symbol)
		}
	}
}
