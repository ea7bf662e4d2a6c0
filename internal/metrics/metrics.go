// Package metrics holds the Prometheus instruments updated across the
// pipeline and served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// WSMessages counts raw frames received from venue streams.
	WSMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpflow_ws_messages_total",
			Help: "Raw websocket frames received per venue",
		},
		[]string{"venue"},
	)

	// ParseErrors counts frames that could not be decoded. One bad frame
	// never poisons a stream; it is counted here and dropped.
	ParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpflow_parse_errors_total",
			Help: "Venue messages dropped due to parse failures",
		},
		[]string{"venue"},
	)

	// Reconnects counts adapter reconnect attempts after a lost connection.
	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpflow_reconnects_total",
			Help: "Adapter reconnects per venue",
		},
		[]string{"venue"},
	)

	// Alerts counts emitted order-flow alerts by kind.
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpflow_alerts_total",
			Help: "Order-flow alerts emitted by kind",
		},
		[]string{"kind"},
	)

	// Signals counts signal classifications produced by the engine.
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpflow_signals_total",
			Help: "Signal results by classification",
		},
		[]string{"signal"},
	)

	// Watchers tracks currently active instrument watchers.
	Watchers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpflow_watchers",
			Help: "Active instrument watchers",
		},
	)

	// Clients tracks connected broadcast clients.
	Clients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpflow_ws_clients",
			Help: "Connected websocket clients",
		},
	)

	// CatalogContracts tracks discovered contracts per venue.
	CatalogContracts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpflow_catalog_contracts",
			Help: "Contracts in the catalog per venue",
		},
		[]string{"venue"},
	)
)

func init() {
	prometheus.MustRegister(
		WSMessages, ParseErrors, Reconnects,
		Alerts, Signals,
		Watchers, Clients, CatalogContracts,
	)
}
