package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dieselwatch/internal/metrics"
	"dieselwatch/internal/model"
	"dieselwatch/internal/store"
)

type fakeReader struct {
	store.NopStore
	prices      []store.PriceRow
	latest      []store.Latest
	inventories []store.InventoryRow
	fetches     []model.FetchLogEntry
	pingErr     error
}

func (f *fakeReader) ListPrices(ctx context.Context, filter store.PriceFilter) ([]store.PriceRow, error) {
	out := []store.PriceRow{}
	for _, row := range f.prices {
		if filter.SeriesID != "" && row.SeriesID != filter.SeriesID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeReader) LatestPrices(ctx context.Context) ([]store.Latest, error) {
	return f.latest, nil
}

func (f *fakeReader) ListInventories(ctx context.Context, filter store.InventoryFilter) ([]store.InventoryRow, error) {
	return f.inventories, nil
}

func (f *fakeReader) RecentFetches(ctx context.Context, limit int) ([]model.FetchLogEntry, error) {
	if limit < len(f.fetches) {
		return f.fetches[:limit], nil
	}
	return f.fetches, nil
}

func (f *fakeReader) Ping(ctx context.Context) error {
	return f.pingErr
}

type fakeIngestor struct {
	registry  model.Registry
	succeed   bool
	lastRange model.DateRange
	runCalls  int
}

func (f *fakeIngestor) IngestSelector(ctx context.Context, selector model.Selector, window model.DateRange) model.FetchSummary {
	f.lastRange = window
	return model.FetchSummary{Selector: selector, Succeeded: f.succeed, RecordsApplied: 5}
}

func (f *fakeIngestor) IngestAll(ctx context.Context, window model.DateRange) model.RunSummary {
	f.runCalls++
	f.lastRange = window
	return model.RunSummary{RunID: "run-1", TotalSelectors: 3, Succeeded: 2, TotalRecordsApplied: 9}
}

func (f *fakeIngestor) IngestSource(ctx context.Context, source string, window model.DateRange) model.RunSummary {
	f.runCalls++
	return model.RunSummary{RunID: "run-2", TotalSelectors: 1, Succeeded: 1}
}

func (f *fakeIngestor) KnownSelector(selector model.Selector) bool {
	switch selector.Source {
	case model.SourceFRED:
		_, ok := f.registry.LookupSeries(selector.ID)
		return ok
	case model.SourceEIA:
		_, ok := f.registry.LookupArea(selector.ID)
		return ok
	}
	return false
}

func newTestServer(reader *fakeReader, ingestor *fakeIngestor) *httptest.Server {
	registry := model.DefaultRegistry()
	if ingestor != nil {
		ingestor.registry = registry
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(reader, ingestor, registry, metrics.New(), log, 24)
	mux := http.NewServeMux()
	s.Register(mux)
	return httptest.NewServer(mux)
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("health is always ok", func(t *testing.T) {
		server := newTestServer(&fakeReader{}, &fakeIngestor{})
		defer server.Close()

		var body map[string]any
		code := getJSON(t, server.URL+"/api/health", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("db health reflects ping failures", func(t *testing.T) {
		server := newTestServer(&fakeReader{pingErr: errors.New("locked")}, &fakeIngestor{})
		defer server.Close()

		var body map[string]any
		code := getJSON(t, server.URL+"/api/health/db", &body)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", body["status"])
	})
}

func TestPriceEndpoints(t *testing.T) {
	v := 80.0
	reader := &fakeReader{
		prices: []store.PriceRow{
			{SeriesID: "DCOILBRENTEU", Date: "2024-01-03", Value: &v, Unit: "usd_per_barrel"},
			{SeriesID: "DCOILWTICO", Date: "2024-01-03", Value: &v, Unit: "usd_per_barrel"},
		},
		latest: []store.Latest{
			{SeriesID: "DCOILBRENTEU", Date: "2024-01-03", Value: &v},
		},
	}

	t.Run("list prices filters by series", func(t *testing.T) {
		server := newTestServer(reader, &fakeIngestor{})
		defer server.Close()

		var rows []store.PriceRow
		code := getJSON(t, server.URL+"/api/prices?series_id=DCOILBRENTEU", &rows)
		assert.Equal(t, http.StatusOK, code)
		require.Len(t, rows, 1)
		assert.Equal(t, "DCOILBRENTEU", rows[0].SeriesID)
	})

	t.Run("invalid limit is rejected", func(t *testing.T) {
		server := newTestServer(reader, &fakeIngestor{})
		defer server.Close()

		var body map[string]any
		code := getJSON(t, server.URL+"/api/prices?limit=0", &body)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("latest prices are keyed by series id", func(t *testing.T) {
		server := newTestServer(reader, &fakeIngestor{})
		defer server.Close()

		var byID map[string]store.Latest
		code := getJSON(t, server.URL+"/api/prices/latest", &byID)
		assert.Equal(t, http.StatusOK, code)
		require.Contains(t, byID, "DCOILBRENTEU")
		assert.Equal(t, "2024-01-03", byID["DCOILBRENTEU"].Date)
	})

	t.Run("single series returns its points", func(t *testing.T) {
		server := newTestServer(reader, &fakeIngestor{})
		defer server.Close()

		var body struct {
			SeriesID string `json:"series_id"`
			Records  int    `json:"records"`
			Data     []struct {
				Date  string   `json:"date"`
				Value *float64 `json:"value"`
			} `json:"data"`
		}
		code := getJSON(t, server.URL+"/api/prices/DCOILBRENTEU", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "DCOILBRENTEU", body.SeriesID)
		assert.Equal(t, 1, body.Records)
		require.Len(t, body.Data, 1)
	})

	t.Run("unknown series is a 404", func(t *testing.T) {
		server := newTestServer(reader, &fakeIngestor{})
		defer server.Close()

		var body map[string]any
		code := getJSON(t, server.URL+"/api/prices/NOPE", &body)
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestInventoryEndpoints(t *testing.T) {
	v := 120500.0
	reader := &fakeReader{
		inventories: []store.InventoryRow{
			{Region: "US", Product: "distillate", Date: "2024-01-12", Value: &v},
		},
	}
	server := newTestServer(reader, &fakeIngestor{})
	defer server.Close()

	var rows []store.InventoryRow
	code := getJSON(t, server.URL+"/api/inventories", &rows)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, rows, 1)
	assert.Equal(t, "US", rows[0].Region)
}

func TestFetchEndpoints(t *testing.T) {
	t.Run("status returns recent entries", func(t *testing.T) {
		reader := &fakeReader{fetches: []model.FetchLogEntry{
			{ID: 2, Source: model.SourceFRED, Status: model.FetchSuccess},
			{ID: 1, Source: model.SourceEIA, Status: model.FetchError},
		}}
		server := newTestServer(reader, &fakeIngestor{})
		defer server.Close()

		var body struct {
			RecentFetches []model.FetchLogEntry `json:"recent_fetches"`
			Count         int                   `json:"count"`
		}
		code := getJSON(t, server.URL+"/api/fetch/status", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, 2, body.Count)
	})

	t.Run("sources lists both registries", func(t *testing.T) {
		server := newTestServer(&fakeReader{}, &fakeIngestor{})
		defer server.Close()

		var body map[string]any
		code := getJSON(t, server.URL+"/api/fetch/sources", &body)
		assert.Equal(t, http.StatusOK, code)
		require.Contains(t, body, "fred")
		require.Contains(t, body, "eia")
	})

	t.Run("fetch all reports the run summary", func(t *testing.T) {
		ingestor := &fakeIngestor{succeed: true}
		server := newTestServer(&fakeReader{}, ingestor)
		defer server.Close()

		var body struct {
			Message      string `json:"message"`
			RunID        string `json:"run_id"`
			TotalRecords int    `json:"total_records"`
		}
		code := postJSON(t, server.URL+"/api/fetch/all", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "Fetched 2/3 selectors", body.Message)
		assert.Equal(t, "run-1", body.RunID)
		assert.Equal(t, 9, body.TotalRecords)
		assert.Equal(t, 1, ingestor.runCalls)
	})

	t.Run("months out of range is rejected before any fetch", func(t *testing.T) {
		ingestor := &fakeIngestor{succeed: true}
		server := newTestServer(&fakeReader{}, ingestor)
		defer server.Close()

		var body map[string]any
		code := postJSON(t, server.URL+"/api/fetch/all?months=500", &body)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Zero(t, ingestor.runCalls)
	})

	t.Run("single selector fetch succeeds", func(t *testing.T) {
		ingestor := &fakeIngestor{succeed: true}
		server := newTestServer(&fakeReader{}, ingestor)
		defer server.Close()

		var summary model.FetchSummary
		code := postJSON(t, server.URL+"/api/fetch/fred/DCOILBRENTEU?months=6", &summary)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, summary.Succeeded)
		assert.Equal(t, 5, summary.RecordsApplied)
		assert.False(t, ingestor.lastRange.IsZero())
	})

	t.Run("failed selector fetch maps to bad gateway", func(t *testing.T) {
		ingestor := &fakeIngestor{succeed: false}
		server := newTestServer(&fakeReader{}, ingestor)
		defer server.Close()

		var summary model.FetchSummary
		code := postJSON(t, server.URL+"/api/fetch/eia/NUS", &summary)
		assert.Equal(t, http.StatusBadGateway, code)
		assert.False(t, summary.Succeeded)
	})

	t.Run("unknown selector is a 404", func(t *testing.T) {
		ingestor := &fakeIngestor{succeed: true}
		server := newTestServer(&fakeReader{}, ingestor)
		defer server.Close()

		var body map[string]any
		code := postJSON(t, server.URL+"/api/fetch/fred/UNKNOWN", &body)
		assert.Equal(t, http.StatusNotFound, code)
	})
}
