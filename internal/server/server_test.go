package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpflow/internal/analyzer"
	"perpflow/internal/catalog"
	"perpflow/internal/config"
	"perpflow/internal/hub"
	"perpflow/internal/model"
	"perpflow/internal/venue"
	"perpflow/internal/watch"
)

// fakeAdapter delivers one book snapshot then idles until canceled.
type fakeAdapter struct{ symbol string }

func (f *fakeAdapter) Venue() string { return venue.BingX }

func (f *fakeAdapter) Run(ctx context.Context, out chan<- venue.Event) error {
	defer close(out)
	out <- venue.Event{Book: &model.BookSnapshot{
		Instrument: f.symbol,
		Venue:      venue.BingX,
		Bids:       []model.PriceLevel{{Price: 2.0, Quantity: 1000}},
		Asks:       []model.PriceLevel{{Price: 2.01, Quantity: 500}},
		ReceivedAt: time.Now(),
	}}
	<-ctx.Done()
	return nil
}

type harness struct {
	server   *Server
	catalog  *catalog.Catalog
	analyzer *analyzer.Analyzer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	now := time.Now()
	contracts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":[
			{"symbol":"WIF-USDT","asset":"WIF","currency":"USDT","launchTime":%d,"tradeMinQuantity":"1","apiStateOpen":"true"},
			{"symbol":"DOGE-USDT","asset":"DOGE","currency":"USDT","launchTime":%d,"tradeMinQuantity":"1","apiStateOpen":"true"}
		]}`, now.Add(-24*time.Hour).UnixMilli(), now.Add(-30*24*time.Hour).UnixMilli())
	}))
	t.Cleanup(contracts.Close)
	emptyData := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	t.Cleanup(emptyData.Close)
	emptyUniverse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"universe":[]}`)
	}))
	t.Cleanup(emptyUniverse.Close)

	urls := config.VenueEndpoints{
		BingXContracts:  contracts.URL,
		BloFinContracts: emptyData.URL,
		HyperliquidInfo: emptyUniverse.URL,
	}

	cat := catalog.New(config.Default().Catalog, urls)
	cat.Refresh(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.New()
	an := analyzer.New(config.Default().Alerts)
	reg := watch.NewRegistry(ctx, urls, cat, h, an)
	reg.AdapterFactory = func(venueName, symbol string) venue.Adapter {
		return &fakeAdapter{symbol: symbol}
	}
	t.Cleanup(reg.Stop)

	return &harness{
		server:   New(":0", cat, reg, h, an),
		catalog:  cat,
		analyzer: an,
	}
}

func (h *harness) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRootStatus(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "perpflow", body["service"])
	assert.Equal(t, float64(2), body["contracts"])
}

func TestContractsEndpoints(t *testing.T) {
	h := newHarness(t)

	t.Run("list", func(t *testing.T) {
		rec, _ := h.do(t, http.MethodGet, "/contracts")
		assert.Equal(t, http.StatusOK, rec.Code)

		var contracts []catalog.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contracts))
		require.Len(t, contracts, 2)
		assert.Equal(t, "WIF-USDT", contracts[0].Symbol) // newest first
	})

	t.Run("limit", func(t *testing.T) {
		rec, _ := h.do(t, http.MethodGet, "/contracts?limit=1")
		var contracts []catalog.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contracts))
		assert.Len(t, contracts, 1)
	})

	t.Run("new listings", func(t *testing.T) {
		rec, _ := h.do(t, http.MethodGet, "/contracts/new?days=7")
		var contracts []catalog.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contracts))
		require.Len(t, contracts, 1)
		assert.True(t, contracts[0].IsNew)
	})

	t.Run("search", func(t *testing.T) {
		rec, _ := h.do(t, http.MethodGet, "/contracts/search?q=doge")
		var contracts []catalog.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contracts))
		require.Len(t, contracts, 1)
		assert.Equal(t, "DOGE-USDT", contracts[0].Symbol)
	})

	t.Run("search without query", func(t *testing.T) {
		rec, body := h.do(t, http.MethodGet, "/contracts/search")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "error", body["status"])
	})
}

func TestWatchEndpoints(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodPost, "/watch/bingx/WIF-USDT")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "watching", body["status"])
	assert.Equal(t, "bingx:WIF-USDT", body["key"])

	rec, body = h.do(t, http.MethodPost, "/watch/bingx/WIF-USDT")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_watching", body["status"])

	rec, body = h.do(t, http.MethodPost, "/watch/bingx/NOPE-USDT")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", body["status"])

	rec, body = h.do(t, http.MethodPost, "/watch/kraken/WIF-USDT")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])

	rec, _ = h.do(t, http.MethodGet, "/watching")
	var list []model.StatsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "WIF-USDT", list[0].Symbol)

	rec, body = h.do(t, http.MethodDelete, "/watch/bingx/WIF-USDT")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", body["status"])

	_, body = h.do(t, http.MethodDelete, "/watch/bingx/WIF-USDT")
	assert.Equal(t, "not_watching", body["status"])
}

func TestAlertsEndpoint(t *testing.T) {
	h := newHarness(t)

	al := h.analyzer.InspectTrade("bingx:WIF-USDT", &model.Trade{
		Instrument: "WIF-USDT",
		Venue:      venue.BingX,
		Price:      2.0,
		Quantity:   30000, // $60k whale
		Side:       model.Buy,
		OccurredAt: time.Now(),
	})
	require.NotNil(t, al)

	rec, _ := h.do(t, http.MethodGet, "/alerts")
	assert.Equal(t, http.StatusOK, rec.Code)

	var alerts []analyzer.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, analyzer.KindWhaleTrade, alerts[0].Type)
}

func TestRefreshEndpoint(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodPost, "/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refreshed", body["status"])
	assert.Equal(t, float64(2), body["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "perpflow_")
}
