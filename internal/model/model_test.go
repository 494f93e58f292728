package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailingMonths(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC)

	t.Run("window ends today and spans n 30-day months", func(t *testing.T) {
		window := TrailingMonths(6, now)

		assert.Equal(t, "2024-06-15", window.End.Format(DateLayout))
		assert.Equal(t, "2023-12-18", window.Start.Format(DateLayout))
	})

	t.Run("non-positive n falls back to 24 months", func(t *testing.T) {
		assert.Equal(t, TrailingMonths(24, now), TrailingMonths(0, now))
		assert.Equal(t, TrailingMonths(24, now), TrailingMonths(-3, now))
	})

	t.Run("time of day is truncated", func(t *testing.T) {
		window := TrailingMonths(1, now)
		assert.Zero(t, window.End.Hour())
		assert.Zero(t, window.End.Minute())
	})
}

func TestObservationKey(t *testing.T) {
	date := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	price := Observation{Kind: KindPrice, Source: SourceFRED, SeriesID: "DCOILBRENTEU", Date: date}
	assert.Equal(t, "FRED/DCOILBRENTEU/2024-01-03", price.Key())

	stock := Observation{Kind: KindInventory, Source: SourceEIA, Region: "US", Product: "distillate", Date: date}
	assert.Equal(t, "EIA/US/distillate/2024-01-03", stock.Key())
}

func TestRegistry(t *testing.T) {
	registry := DefaultRegistry()

	t.Run("lookups find known entries", func(t *testing.T) {
		series, ok := registry.LookupSeries("DCOILWTICO")
		require.True(t, ok)
		assert.Equal(t, "WTI Crude", series.Name)

		area, ok := registry.LookupArea("R30")
		require.True(t, ok)
		assert.Equal(t, "PADD3", area.Region)

		_, ok = registry.LookupSeries("NOPE")
		assert.False(t, ok)
		_, ok = registry.LookupArea("R99")
		assert.False(t, ok)
	})

	t.Run("selectors list prices before inventories", func(t *testing.T) {
		selectors := registry.Selectors()
		require.Len(t, selectors, 10)
		assert.Equal(t, Selector{Source: SourceFRED, ID: "DCOILBRENTEU"}, selectors[0])
		assert.Equal(t, Selector{Source: SourceEIA, ID: "NUS"}, selectors[4])
	})
}

func TestDateRange(t *testing.T) {
	assert.True(t, DateRange{}.IsZero())

	window := DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.False(t, window.IsZero())
	assert.Equal(t, "2024-01-01 to 2024-03-01", window.String())
}
