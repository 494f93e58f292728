// Package api serves the read-only query surface and manual fetch triggers.
// It is a thin layer over the store and the orchestrator; no invariants of
// its own.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"dieselwatch/internal/metrics"
	"dieselwatch/internal/model"
	"dieselwatch/internal/store"
)

// Ingestor is the slice of the orchestrator the fetch endpoints need.
type Ingestor interface {
	IngestSelector(ctx context.Context, selector model.Selector, window model.DateRange) model.FetchSummary
	IngestAll(ctx context.Context, window model.DateRange) model.RunSummary
	IngestSource(ctx context.Context, source string, window model.DateRange) model.RunSummary
	KnownSelector(selector model.Selector) bool
}

type Server struct {
	reader        store.Reader
	ingestor      Ingestor
	registry      model.Registry
	metrics       *metrics.Metrics
	log           *slog.Logger
	defaultMonths int
}

func NewServer(reader store.Reader, ingestor Ingestor, registry model.Registry, m *metrics.Metrics, log *slog.Logger, defaultMonths int) *Server {
	if log == nil {
		log = slog.Default()
	}
	if defaultMonths <= 0 {
		defaultMonths = 24
	}
	return &Server{
		reader:        reader,
		ingestor:      ingestor,
		registry:      registry,
		metrics:       m,
		log:           log.With("component", "api"),
		defaultMonths: defaultMonths,
	}
}

// Register attaches all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("GET /api/health/db", s.instrument("health_db", s.handleHealthDB))

	mux.HandleFunc("GET /api/prices", s.instrument("prices", s.handlePrices))
	mux.HandleFunc("GET /api/prices/latest", s.instrument("prices_latest", s.handleLatestPrices))
	mux.HandleFunc("GET /api/prices/series", s.instrument("prices_series", s.handleListSeries))
	mux.HandleFunc("GET /api/prices/{series}", s.instrument("prices_one", s.handleOneSeries))

	mux.HandleFunc("GET /api/inventories", s.instrument("inventories", s.handleInventories))
	mux.HandleFunc("GET /api/inventories/latest", s.instrument("inventories_latest", s.handleLatestInventories))

	mux.HandleFunc("GET /api/fetch/status", s.instrument("fetch_status", s.handleFetchStatus))
	mux.HandleFunc("GET /api/fetch/sources", s.instrument("fetch_sources", s.handleFetchSources))
	mux.HandleFunc("POST /api/fetch/all", s.instrument("fetch_all", s.handleFetchAll))
	mux.HandleFunc("POST /api/fetch/fred/all", s.instrument("fetch_fred_all", s.handleFetchFREDAll))
	mux.HandleFunc("POST /api/fetch/fred/{series}", s.instrument("fetch_fred", s.handleFetchFRED))
	mux.HandleFunc("POST /api/fetch/eia/all", s.instrument("fetch_eia_all", s.handleFetchEIAAll))
	mux.HandleFunc("POST /api/fetch/eia/{area}", s.instrument("fetch_eia", s.handleFetchEIA))

	mux.Handle("GET /metrics", s.metrics.Handler())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveRequest(endpoint, rec.status)
	}
}
