package model

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used across providers and storage.
const DateLayout = "2006-01-02"

const (
	SourceFRED = "FRED"
	SourceEIA  = "EIA"
)

type Kind string

const (
	KindPrice     Kind = "price"
	KindInventory Kind = "inventory"
)

// Selector names one upstream series (FRED) or area (EIA) to ingest.
type Selector struct {
	Source string `json:"source"`
	ID     string `json:"id"`
}

func (s Selector) String() string {
	return s.Source + "/" + s.ID
}

// DateRange is an inclusive calendar-date window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s to %s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// TrailingMonths builds the default fetch window: the last n months up to now,
// approximated as 30-day months.
func TrailingMonths(n int, now time.Time) DateRange {
	if n <= 0 {
		n = 24
	}
	end := now.UTC().Truncate(24 * time.Hour)
	return DateRange{
		Start: end.AddDate(0, 0, -n*30),
		End:   end,
	}
}

// Observation is one normalized upstream data point. Value is a pointer so a
// reported gap stays distinguishable from a literal zero.
type Observation struct {
	Kind     Kind
	Source   string
	SeriesID string
	Region   string
	Product  string
	Date     time.Time
	Value    *float64
	Unit     string
}

// Key renders the natural key of the observation's target row.
func (o Observation) Key() string {
	if o.Kind == KindInventory {
		return fmt.Sprintf("%s/%s/%s/%s", o.Source, o.Region, o.Product, o.Date.Format(DateLayout))
	}
	return fmt.Sprintf("%s/%s/%s", o.Source, o.SeriesID, o.Date.Format(DateLayout))
}

type SeriesSpec struct {
	ID   string
	Name string
	Unit string
}

type AreaSpec struct {
	Code   string
	Name   string
	Region string
}

// Registry is the immutable table of known selectors, injected into the
// orchestrator at construction.
type Registry struct {
	PriceSeries    []SeriesSpec
	InventoryAreas []AreaSpec
}

func (r Registry) LookupSeries(id string) (SeriesSpec, bool) {
	for _, s := range r.PriceSeries {
		if s.ID == id {
			return s, true
		}
	}
	return SeriesSpec{}, false
}

func (r Registry) LookupArea(code string) (AreaSpec, bool) {
	for _, a := range r.InventoryAreas {
		if a.Code == code {
			return a, true
		}
	}
	return AreaSpec{}, false
}

// Selectors lists every selector the registry knows, prices first.
func (r Registry) Selectors() []Selector {
	out := make([]Selector, 0, len(r.PriceSeries)+len(r.InventoryAreas))
	for _, s := range r.PriceSeries {
		out = append(out, Selector{Source: SourceFRED, ID: s.ID})
	}
	for _, a := range r.InventoryAreas {
		out = append(out, Selector{Source: SourceEIA, ID: a.Code})
	}
	return out
}

// DefaultRegistry returns the production selector set: the four price series
// and the six distillate stock areas.
func DefaultRegistry() Registry {
	return Registry{
		PriceSeries: []SeriesSpec{
			{ID: "DCOILBRENTEU", Name: "Brent Crude", Unit: "$/bbl"},
			{ID: "DCOILWTICO", Name: "WTI Crude", Unit: "$/bbl"},
			{ID: "DDFUELUSGULF", Name: "ULSD Gulf Coast", Unit: "$/gal"},
			{ID: "DDFUELNYH", Name: "ULSD NY Harbor", Unit: "$/gal"},
		},
		InventoryAreas: []AreaSpec{
			{Code: "NUS", Name: "US Total", Region: "US"},
			{Code: "R10", Name: "PADD 1 - East Coast", Region: "PADD1"},
			{Code: "R20", Name: "PADD 2 - Midwest", Region: "PADD2"},
			{Code: "R30", Name: "PADD 3 - Gulf Coast", Region: "PADD3"},
			{Code: "R40", Name: "PADD 4 - Rocky Mountain", Region: "PADD4"},
			{Code: "R50", Name: "PADD 5 - West Coast", Region: "PADD5"},
		},
	}
}

type FetchStatus string

const (
	FetchInProgress FetchStatus = "in_progress"
	FetchSuccess    FetchStatus = "success"
	FetchError      FetchStatus = "error"
)

// FetchLogEntry is the audit record of one ingestion attempt. Rows are
// created in_progress before the network call and transition exactly once to
// a terminal status.
type FetchLogEntry struct {
	ID             int64       `json:"id"`
	Source         string      `json:"source"`
	Endpoint       string      `json:"endpoint"`
	Target         string      `json:"target"`
	StartedAt      time.Time   `json:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	Status         FetchStatus `json:"status"`
	RecordsFetched int         `json:"records_fetched"`
	ErrorMessage   string      `json:"error_message,omitempty"`
}

// FetchSummary reports the outcome of one selector's ingestion. The applied
// count measures rows written to storage, not rows returned by the network.
type FetchSummary struct {
	Selector       Selector `json:"selector"`
	Succeeded      bool     `json:"succeeded"`
	RecordsApplied int      `json:"records_applied"`
	PointsSkipped  int      `json:"points_skipped,omitempty"`
	DateRange      string   `json:"date_range"`
	Error          string   `json:"error,omitempty"`
}

// RunSummary aggregates a fan-out ingestion run. One selector failing never
// fails the run; it only shows up in Results.
type RunSummary struct {
	RunID               string         `json:"run_id"`
	TotalSelectors      int            `json:"total_selectors"`
	Succeeded           int            `json:"succeeded"`
	TotalRecordsApplied int            `json:"total_records_applied"`
	Results             []FetchSummary `json:"results"`
}
