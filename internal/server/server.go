// Package server is the HTTP and websocket edge: contract queries, watch
// control, alert replay, Prometheus metrics, and the live client stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"perpflow/internal/analyzer"
	"perpflow/internal/catalog"
	"perpflow/internal/hub"
	"perpflow/internal/watch"
)

const defaultAlertLimit = 50

// Server serves the REST and websocket API.
type Server struct {
	listen   string
	catalog  *catalog.Catalog
	registry *watch.Registry
	hub      *hub.Hub
	analyzer *analyzer.Analyzer

	httpServer *http.Server
}

func New(listen string, cat *catalog.Catalog, reg *watch.Registry, h *hub.Hub, an *analyzer.Analyzer) *Server {
	s := &Server{
		listen:   listen,
		catalog:  cat,
		registry: reg,
		hub:      h,
		analyzer: an,
	}
	s.httpServer = &http.Server{
		Addr:        listen,
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed for handler tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/contracts", s.handleContracts).Methods(http.MethodGet)
	r.HandleFunc("/contracts/new", s.handleNewContracts).Methods(http.MethodGet)
	r.HandleFunc("/contracts/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/watch/{venue}/{symbol}", s.handleWatch).Methods(http.MethodPost)
	r.HandleFunc("/watch/{venue}/{symbol}", s.handleUnwatch).Methods(http.MethodDelete)
	r.HandleFunc("/watching", s.handleWatching).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.listen).Msg("http server up")
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "perpflow",
		"contracts": s.catalog.Count(),
	})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	sortBy := r.URL.Query().Get("sort")
	if sortBy == "" {
		sortBy = "list_time"
	}
	venueName := r.URL.Query().Get("exchange")

	contracts := s.catalog.GetAll(sortBy, venueName)
	writeJSON(w, http.StatusOK, limited(contracts, queryInt(r, "limit", 0)))
}

func (s *Server) handleNewContracts(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	contracts := s.catalog.GetNewListings(days)
	writeJSON(w, http.StatusOK, limited(contracts, queryInt(r, "limit", 50)))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": "missing query parameter q",
		})
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Search(q))
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, existed, err := s.registry.Watch(vars["venue"], vars["symbol"])

	switch {
	case errors.Is(err, watch.ErrUnknownVenue):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": "unknown venue",
		})
	case errors.Is(err, watch.ErrUnknownInstrument):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status":  "error",
			"message": "Contract not found",
		})
	case existed:
		writeJSON(w, http.StatusOK, map[string]any{"status": "already_watching", "key": key})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "watching", "key": key})
	}
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !s.registry.Unwatch(vars["venue"], vars["symbol"]) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "not_watching"})
		return
	}
	key := vars["venue"] + ":" + vars["symbol"]
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "key": key})
}

func (s *Server) handleWatching(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultAlertLimit)
	writeJSON(w, http.StatusOK, s.analyzer.Recent(limit))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	count := s.catalog.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed", "count": count})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func limited[T any](items []T, limit int) []T {
	if items == nil {
		return []T{}
	}
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
