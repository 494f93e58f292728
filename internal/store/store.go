package store

import (
	"context"
	"time"

	"dieselwatch/internal/model"
)

// SkippedRow describes one observation the store refused to apply.
type SkippedRow struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// UpsertResult reports a batch write. Applied counts rows actually written to
// storage (inserted or updated); it is the number recorded in the audit log,
// which is not the raw network response size.
type UpsertResult struct {
	Applied int
	Skipped []SkippedRow
}

// FetchOutcome is the terminal state recorded for a fetch-log row.
type FetchOutcome struct {
	Status  model.FetchStatus
	Records int
	Message string
}

func Success(records int) FetchOutcome {
	return FetchOutcome{Status: model.FetchSuccess, Records: records}
}

func Failure(err error) FetchOutcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FetchOutcome{Status: model.FetchError, Message: msg}
}

// ObservationStore applies observation batches with conflict-safe writes on
// the natural key. Re-applying a batch is idempotent.
type ObservationStore interface {
	UpsertObservations(ctx context.Context, observations []model.Observation) (UpsertResult, error)
}

// AuditLog persists fetch-log rows. It records, it never decides: lifecycle
// ownership stays with the orchestrator.
type AuditLog interface {
	// BeginFetch writes an in_progress row and returns its id. Called before
	// the network attempt so an aborted run leaves visible evidence.
	BeginFetch(ctx context.Context, source, endpoint, target string) (int64, error)

	// CompleteFetch transitions the row to a terminal status exactly once.
	// Completing an already-terminal row is an error.
	CompleteFetch(ctx context.Context, id int64, outcome FetchOutcome) error
}

type PriceRow struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	SeriesID  string    `json:"series_id"`
	Date      string    `json:"date"`
	Value     *float64  `json:"value"`
	Unit      string    `json:"unit"`
	FetchedAt time.Time `json:"fetched_at"`
}

type InventoryRow struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Region    string    `json:"region"`
	Product   string    `json:"product"`
	Date      string    `json:"date"`
	Value     *float64  `json:"value"`
	Unit      string    `json:"unit"`
	FetchedAt time.Time `json:"fetched_at"`
}

type PriceFilter struct {
	SeriesID string
	Start    string
	End      string
	Limit    int
}

type InventoryFilter struct {
	Region  string
	Product string
	Start   string
	End     string
	Limit   int
}

// Latest pairs a key's most recent reading with the one before it, for
// change display on the read side.
type Latest struct {
	SeriesID      string   `json:"series_id,omitempty"`
	Region        string   `json:"region,omitempty"`
	Product       string   `json:"product,omitempty"`
	Date          string   `json:"date"`
	Value         *float64 `json:"value"`
	Previous      *float64 `json:"previous"`
	Change        float64  `json:"change"`
	ChangePercent float64  `json:"change_percent"`
	Unit          string   `json:"unit"`
	Source        string   `json:"source"`
}

type SeriesSummary struct {
	SeriesID    string `json:"series_id"`
	Source      string `json:"source"`
	Unit        string `json:"unit"`
	RecordCount int    `json:"record_count"`
	FirstDate   string `json:"first_date"`
	LastDate    string `json:"last_date"`
}

// Reader is the read-only surface the query API serves from. Thin filters and
// aggregations, no invariants of its own.
type Reader interface {
	ListPrices(ctx context.Context, filter PriceFilter) ([]PriceRow, error)
	LatestPrices(ctx context.Context) ([]Latest, error)
	ListSeries(ctx context.Context) ([]SeriesSummary, error)
	ListInventories(ctx context.Context, filter InventoryFilter) ([]InventoryRow, error)
	LatestInventories(ctx context.Context) ([]Latest, error)
	RecentFetches(ctx context.Context, limit int) ([]model.FetchLogEntry, error)
	Ping(ctx context.Context) error
}

type Store interface {
	ObservationStore
	AuditLog
	Reader
	Close() error
}

// NopStore discards writes and serves empty reads. Used when persistence is
// disabled on the command line.
type NopStore struct {
	seq int64
}

func (s *NopStore) UpsertObservations(ctx context.Context, observations []model.Observation) (UpsertResult, error) {
	_ = ctx
	return UpsertResult{Applied: len(observations)}, nil
}

func (s *NopStore) BeginFetch(ctx context.Context, source, endpoint, target string) (int64, error) {
	_ = ctx
	_ = source
	_ = endpoint
	_ = target
	s.seq++
	return s.seq, nil
}

func (s *NopStore) CompleteFetch(ctx context.Context, id int64, outcome FetchOutcome) error {
	_ = ctx
	_ = id
	_ = outcome
	return nil
}

func (s *NopStore) ListPrices(ctx context.Context, filter PriceFilter) ([]PriceRow, error) {
	_ = ctx
	_ = filter
	return nil, nil
}

func (s *NopStore) LatestPrices(ctx context.Context) ([]Latest, error) {
	_ = ctx
	return nil, nil
}

func (s *NopStore) ListSeries(ctx context.Context) ([]SeriesSummary, error) {
	_ = ctx
	return nil, nil
}

func (s *NopStore) ListInventories(ctx context.Context, filter InventoryFilter) ([]InventoryRow, error) {
	_ = ctx
	_ = filter
	return nil, nil
}

func (s *NopStore) LatestInventories(ctx context.Context) ([]Latest, error) {
	_ = ctx
	return nil, nil
}

func (s *NopStore) RecentFetches(ctx context.Context, limit int) ([]model.FetchLogEntry, error) {
	_ = ctx
	_ = limit
	return nil, nil
}

func (s *NopStore) Ping(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *NopStore) Close() error {
	return nil
}
