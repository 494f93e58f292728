package api

import (
	"net/http"

	"dieselwatch/internal/store"
)

func (s *Server) handleInventories(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	rows, err := s.reader.ListInventories(r.Context(), store.InventoryFilter{
		Region:  r.URL.Query().Get("region"),
		Product: r.URL.Query().Get("product"),
		Start:   r.URL.Query().Get("start_date"),
		End:     r.URL.Query().Get("end_date"),
		Limit:   limit,
	})
	if err != nil {
		s.log.Error("list inventories failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLatestInventories(w http.ResponseWriter, r *http.Request) {
	entries, err := s.reader.LatestInventories(r.Context())
	if err != nil {
		s.log.Error("latest inventories failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	byRegion := map[string]store.Latest{}
	for _, entry := range entries {
		byRegion[entry.Region] = entry
	}
	writeJSON(w, http.StatusOK, byRegion)
}
