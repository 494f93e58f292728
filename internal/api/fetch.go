package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dieselwatch/internal/model"
)

func (s *Server) handleFetchStatus(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.reader.RecentFetches(r.Context(), limit)
	if err != nil {
		s.log.Error("fetch status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recent_fetches": entries,
		"count":          len(entries),
	})
}

func (s *Server) handleFetchSources(w http.ResponseWriter, r *http.Request) {
	series := make([]model.SeriesSpec, 0, len(s.registry.PriceSeries))
	series = append(series, s.registry.PriceSeries...)
	areas := make([]model.AreaSpec, 0, len(s.registry.InventoryAreas))
	areas = append(areas, s.registry.InventoryAreas...)
	writeJSON(w, http.StatusOK, map[string]any{
		"fred": map[string]any{
			"name":   "Federal Reserve Economic Data",
			"series": series,
		},
		"eia": map[string]any{
			"name":  "US Energy Information Administration",
			"areas": areas,
		},
	})
}

func (s *Server) handleFetchAll(w http.ResponseWriter, r *http.Request) {
	window, ok := s.fetchWindow(w, r)
	if !ok {
		return
	}
	summary := s.ingestor.IngestAll(r.Context(), window)
	writeRunSummary(w, summary)
}

func (s *Server) handleFetchFREDAll(w http.ResponseWriter, r *http.Request) {
	window, ok := s.fetchWindow(w, r)
	if !ok {
		return
	}
	summary := s.ingestor.IngestSource(r.Context(), model.SourceFRED, window)
	writeRunSummary(w, summary)
}

func (s *Server) handleFetchEIAAll(w http.ResponseWriter, r *http.Request) {
	window, ok := s.fetchWindow(w, r)
	if !ok {
		return
	}
	summary := s.ingestor.IngestSource(r.Context(), model.SourceEIA, window)
	writeRunSummary(w, summary)
}

func (s *Server) handleFetchFRED(w http.ResponseWriter, r *http.Request) {
	s.fetchOne(w, r, model.Selector{Source: model.SourceFRED, ID: r.PathValue("series")})
}

func (s *Server) handleFetchEIA(w http.ResponseWriter, r *http.Request) {
	s.fetchOne(w, r, model.Selector{Source: model.SourceEIA, ID: r.PathValue("area")})
}

func (s *Server) fetchOne(w http.ResponseWriter, r *http.Request, selector model.Selector) {
	if !s.ingestor.KnownSelector(selector) {
		writeError(w, http.StatusNotFound, "unknown selector "+selector.String())
		return
	}
	window, ok := s.fetchWindow(w, r)
	if !ok {
		return
	}
	summary := s.ingestor.IngestSelector(r.Context(), selector, window)
	status := http.StatusOK
	if !summary.Succeeded {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, summary)
}

// fetchWindow reads the months query parameter (1..120, default from config)
// and converts it to a trailing date range.
func (s *Server) fetchWindow(w http.ResponseWriter, r *http.Request) (model.DateRange, bool) {
	months := s.defaultMonths
	if raw := r.URL.Query().Get("months"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 120 {
			writeError(w, http.StatusBadRequest, "months must be between 1 and 120")
			return model.DateRange{}, false
		}
		months = parsed
	}
	return model.TrailingMonths(months, time.Now()), true
}

func writeRunSummary(w http.ResponseWriter, summary model.RunSummary) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Fetched %d/%d selectors", summary.Succeeded, summary.TotalSelectors),
		"run_id":        summary.RunID,
		"total_records": summary.TotalRecordsApplied,
		"results":       summary.Results,
	})
}
