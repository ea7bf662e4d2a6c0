// Package catalog discovers the perpetual contracts tradable on each venue
// and serves the queries behind the contract endpoints. Discovery refreshes
// periodically; a venue whose fetch fails keeps its previous entries so one
// flaky API never blanks a third of the catalog.
package catalog

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"perpflow/internal/config"
	"perpflow/internal/metrics"
	"perpflow/internal/venue"
)

const newListingDays = 7

// Contract is one perpetual contract discovered on a venue.
type Contract struct {
	Symbol      string
	BaseCoin    string
	QuoteCoin   string
	Venue       string
	ListTime    int64 // unix ms, 0 when the venue does not expose it
	MaxLeverage int
	MinSize     float64
	APIEnabled  bool
}

// View is the wire shape of a contract, with derived listing-age fields.
type View struct {
	Symbol      string  `json:"symbol"`
	BaseCoin    string  `json:"base_coin"`
	QuoteCoin   string  `json:"quote_coin"`
	Exchange    string  `json:"exchange"`
	ListTime    int64   `json:"list_time"`
	ListDate    string  `json:"list_date"`
	AgeDays     float64 `json:"age_days"`
	MaxLeverage int     `json:"max_leverage"`
	IsNew       bool    `json:"is_new"`
	APIEnabled  bool    `json:"api_enabled"`
}

func (c Contract) view(now time.Time) View {
	v := View{
		Symbol:      c.Symbol,
		BaseCoin:    c.BaseCoin,
		QuoteCoin:   c.QuoteCoin,
		Exchange:    c.Venue,
		ListTime:    c.ListTime,
		ListDate:    "Unknown",
		MaxLeverage: c.MaxLeverage,
		APIEnabled:  c.APIEnabled,
	}
	if c.ListTime > 0 {
		listed := time.UnixMilli(c.ListTime)
		v.ListDate = listed.Format("2006-01-02")
		ageDays := now.Sub(listed).Hours() / 24
		v.AgeDays = round1(ageDays)
		v.IsNew = ageDays < newListingDays
	}
	return v
}

func round1(x float64) float64 {
	return float64(int64(x*10+0.5)) / 10
}

// Catalog is the discovered contract set, keyed per venue and symbol.
type Catalog struct {
	cfg    config.CatalogConfig
	client *http.Client
	urls   config.VenueEndpoints

	mu          sync.RWMutex
	byVenue     map[string]map[string]Contract
	lastRefresh time.Time
}

func New(cfg config.CatalogConfig, urls config.VenueEndpoints) *Catalog {
	return &Catalog{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.FetchTimeout.Std()},
		urls:    urls,
		byVenue: make(map[string]map[string]Contract),
	}
}

// Refresh fetches all venues in parallel and swaps in the results. Failed
// venues retain their previous contracts. Returns the total contract count.
func (c *Catalog) Refresh(ctx context.Context) int {
	type result struct {
		venue     string
		contracts []Contract
		err       error
	}

	fetchers := map[string]func(context.Context) ([]Contract, error){
		venue.BingX:       c.fetchBingX,
		venue.BloFin:      c.fetchBloFin,
		venue.Hyperliquid: c.fetchHyperliquid,
	}

	results := make(chan result, len(fetchers))
	var wg sync.WaitGroup
	for v, fetch := range fetchers {
		wg.Add(1)
		go func(v string, fetch func(context.Context) ([]Contract, error)) {
			defer wg.Done()
			contracts, err := fetch(ctx)
			results <- result{venue: v, contracts: contracts, err: err}
		}(v, fetch)
	}
	wg.Wait()
	close(results)

	c.mu.Lock()
	for r := range results {
		if r.err != nil {
			log.Warn().Err(r.err).Str("venue", r.venue).
				Int("retained", len(c.byVenue[r.venue])).
				Msg("contract fetch failed, keeping previous set")
			continue
		}
		set := make(map[string]Contract, len(r.contracts))
		for _, contract := range r.contracts {
			set[contract.Symbol] = contract
		}
		c.byVenue[r.venue] = set
		metrics.CatalogContracts.WithLabelValues(r.venue).Set(float64(len(set)))
		log.Info().Str("venue", r.venue).Int("contracts", len(set)).Msg("catalog refreshed")
	}
	c.lastRefresh = time.Now()
	total := 0
	for _, set := range c.byVenue {
		total += len(set)
	}
	c.mu.Unlock()

	return total
}

// Run refreshes once, then on every tick of the configured interval until
// ctx is canceled.
func (c *Catalog) Run(ctx context.Context) {
	c.Refresh(ctx)

	ticker := time.NewTicker(c.cfg.RefreshInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Get looks up one contract.
func (c *Catalog) Get(venueName, symbol string) (Contract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contract, ok := c.byVenue[venueName][symbol]
	return contract, ok
}

// Count reports the total number of contracts.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, set := range c.byVenue {
		total += len(set)
	}
	return total
}

// LastRefresh reports when the catalog last completed a refresh cycle.
func (c *Catalog) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// GetAll returns all contracts, optionally filtered by venue. sortBy is
// "list_time" (newest first, the default), "symbol", or "leverage".
func (c *Catalog) GetAll(sortBy, venueName string) []View {
	contracts := c.snapshot(func(ct Contract) bool {
		return venueName == "" || ct.Venue == venueName
	})

	switch sortBy {
	case "symbol":
		sort.Slice(contracts, func(i, j int) bool {
			return contracts[i].Symbol < contracts[j].Symbol
		})
	case "leverage":
		sort.Slice(contracts, func(i, j int) bool {
			return contracts[i].MaxLeverage > contracts[j].MaxLeverage
		})
	default:
		sortNewestFirst(contracts)
	}
	return views(contracts)
}

// GetNewListings returns contracts listed within the last days days, newest
// first.
func (c *Catalog) GetNewListings(days int) []View {
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()
	contracts := c.snapshot(func(ct Contract) bool {
		return ct.ListTime > cutoff
	})
	sortNewestFirst(contracts)
	return views(contracts)
}

// Search matches query against symbol and base coin, case-insensitive.
func (c *Catalog) Search(query string) []View {
	q := strings.ToUpper(query)
	contracts := c.snapshot(func(ct Contract) bool {
		return strings.Contains(strings.ToUpper(ct.Symbol), q) ||
			strings.Contains(strings.ToUpper(ct.BaseCoin), q)
	})
	sortNewestFirst(contracts)
	return views(contracts)
}

func (c *Catalog) snapshot(keep func(Contract) bool) []Contract {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Contract
	for _, set := range c.byVenue {
		for _, contract := range set {
			if keep(contract) {
				out = append(out, contract)
			}
		}
	}
	return out
}

func sortNewestFirst(contracts []Contract) {
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].ListTime > contracts[j].ListTime
	})
}

func views(contracts []Contract) []View {
	now := time.Now()
	out := make([]View, 0, len(contracts))
	for _, contract := range contracts {
		out = append(out, contract.view(now))
	}
	return out
}
