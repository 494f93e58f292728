package api

import (
	"net/http"
	"strconv"

	"dieselwatch/internal/store"
)

const (
	defaultListLimit = 500
	maxListLimit     = 5000
)

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	rows, err := s.reader.ListPrices(r.Context(), store.PriceFilter{
		SeriesID: r.URL.Query().Get("series_id"),
		Start:    r.URL.Query().Get("start_date"),
		End:      r.URL.Query().Get("end_date"),
		Limit:    limit,
	})
	if err != nil {
		s.log.Error("list prices failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLatestPrices(w http.ResponseWriter, r *http.Request) {
	entries, err := s.reader.LatestPrices(r.Context())
	if err != nil {
		s.log.Error("latest prices failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	byID := map[string]store.Latest{}
	for _, entry := range entries {
		byID[entry.SeriesID] = entry
	}
	writeJSON(w, http.StatusOK, byID)
}

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.reader.ListSeries(r.Context())
	if err != nil {
		s.log.Error("list series failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"series":       summaries,
		"total_series": len(summaries),
	})
}

func (s *Server) handleOneSeries(w http.ResponseWriter, r *http.Request) {
	seriesID := r.PathValue("series")
	rows, err := s.reader.ListPrices(r.Context(), store.PriceFilter{
		SeriesID: seriesID,
		Start:    r.URL.Query().Get("start_date"),
		End:      r.URL.Query().Get("end_date"),
	})
	if err != nil {
		s.log.Error("series query failed", "series", seriesID, "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "series "+seriesID+" not found")
		return
	}

	type point struct {
		Date  string   `json:"date"`
		Value *float64 `json:"value"`
	}
	points := make([]point, 0, len(rows))
	for _, row := range rows {
		points = append(points, point{Date: row.Date, Value: row.Value})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"series_id": seriesID,
		"records":   len(points),
		"data":      points,
	})
}

func parseLimit(r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		return 0, false
	}
	return limit, true
}
