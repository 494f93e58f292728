package eia

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dieselwatch/internal/model"
	"dieselwatch/internal/providers"
)

func testRegistry() model.Registry {
	return model.Registry{
		InventoryAreas: []model.AreaSpec{
			{Code: "NUS", Name: "US Total", Region: "US"},
			{Code: "R30", Name: "PADD 3 - Gulf Coast", Region: "PADD3"},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p, err := NewWithConfig(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
	}, testRegistry(), testLogger())
	require.NoError(t, err)
	return p
}

func TestFetch(t *testing.T) {
	t.Run("parses rows and drops null values", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "weekly", q.Get("frequency"))
			assert.Equal(t, "EPD0", q.Get("facets[product][]"))
			assert.Equal(t, "SAE", q.Get("facets[process][]"))
			assert.Equal(t, "R30", q.Get("facets[duoarea][]"))
			_, _ = w.Write([]byte(`{"response":{"data":[
				{"period":"2024-01-12","value":45200,"units":"MBBL"},
				{"period":"2024-01-05","value":null,"units":"MBBL"},
				{"period":"2023-12-29","value":"44100.5","units":"MBBL"}
			]}}`))
		}))
		defer server.Close()

		selector := model.Selector{Source: model.SourceEIA, ID: "R30"}
		observations, err := newTestProvider(t, server.URL).Fetch(context.Background(), selector, model.DateRange{})

		require.NoError(t, err)
		require.Len(t, observations, 2)

		first := observations[0]
		assert.Equal(t, model.KindInventory, first.Kind)
		assert.Equal(t, model.SourceEIA, first.Source)
		assert.Equal(t, "PADD3", first.Region)
		assert.Equal(t, "distillate", first.Product)
		assert.Equal(t, "thousand_barrels", first.Unit)
		require.NotNil(t, first.Value)
		assert.Equal(t, 45200.0, *first.Value)

		// quoted numeric strings are parsed too
		require.NotNil(t, observations[1].Value)
		assert.Equal(t, 44100.5, *observations[1].Value)
	})

	t.Run("skips unparseable values without failing the batch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":{"data":[
				{"period":"2024-01-12","value":"garbage","units":"MBBL"},
				{"period":"2024-01-05","value":44000,"units":"MBBL"}
			]}}`))
		}))
		defer server.Close()

		selector := model.Selector{Source: model.SourceEIA, ID: "NUS"}
		observations, err := newTestProvider(t, server.URL).Fetch(context.Background(), selector, model.DateRange{})

		require.NoError(t, err)
		require.Len(t, observations, 1)
		assert.Equal(t, "US", observations[0].Region)
	})

	t.Run("missing api key fails before any network call", func(t *testing.T) {
		var calls atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		p, err := NewWithConfig(Config{BaseURL: server.URL}, testRegistry(), testLogger())
		require.NoError(t, err)

		_, err = p.Fetch(context.Background(), model.Selector{Source: model.SourceEIA, ID: "NUS"}, model.DateRange{})

		require.ErrorIs(t, err, providers.ErrMissingAPIKey)
		assert.Equal(t, int64(0), calls.Load())
	})

	t.Run("unknown area is rejected", func(t *testing.T) {
		p := newTestProvider(t, "http://127.0.0.1:0")

		_, err := p.Fetch(context.Background(), model.Selector{Source: model.SourceEIA, ID: "R99"}, model.DateRange{})

		require.ErrorIs(t, err, providers.ErrUnknownSelector)
	})

	t.Run("upstream http error is surfaced as status error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		defer server.Close()

		_, err := newTestProvider(t, server.URL).Fetch(context.Background(), model.Selector{Source: model.SourceEIA, ID: "NUS"}, model.DateRange{})

		var statusErr *providers.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	})

	t.Run("undecodable body maps to malformed response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer server.Close()

		_, err := newTestProvider(t, server.URL).Fetch(context.Background(), model.Selector{Source: model.SourceEIA, ID: "NUS"}, model.DateRange{})

		require.ErrorIs(t, err, providers.ErrMalformedResponse)
	})
}
