package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"dieselwatch/internal/model"
	"dieselwatch/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const upsertPriceSQL = `
	INSERT INTO prices (source, series_id, date, value, unit, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(source, series_id, date)
	DO UPDATE SET
		value = excluded.value,
		unit = excluded.unit,
		fetched_at = excluded.fetched_at
`

const upsertInventorySQL = `
	INSERT INTO inventories (source, region, product, date, value, unit, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source, region, product, date)
	DO UPDATE SET
		value = excluded.value,
		unit = excluded.unit,
		fetched_at = excluded.fetched_at
`

// UpsertObservations writes each observation with a single conflict-aware
// statement on its natural key, so concurrent ingestion of overlapping ranges
// is safe. A row that fails is skipped with a reason; it never aborts the
// batch. Applied counts rows written, inserts and updates alike.
func (s *Store) UpsertObservations(ctx context.Context, observations []model.Observation) (store.UpsertResult, error) {
	result := store.UpsertResult{}
	if len(observations) == 0 {
		return result, nil
	}

	priceStmt, err := s.db.PrepareContext(ctx, upsertPriceSQL)
	if err != nil {
		return result, err
	}
	defer priceStmt.Close()

	inventoryStmt, err := s.db.PrepareContext(ctx, upsertInventorySQL)
	if err != nil {
		return result, err
	}
	defer inventoryStmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range observations {
		o := observations[i]
		if reason := rowReason(o); reason != "" {
			result.Skipped = append(result.Skipped, store.SkippedRow{Key: o.Key(), Reason: reason})
			continue
		}

		var execErr error
		switch o.Kind {
		case model.KindPrice:
			_, execErr = priceStmt.ExecContext(ctx,
				o.Source, o.SeriesID, o.Date.Format(model.DateLayout), nullable(o.Value), o.Unit, now)
		case model.KindInventory:
			_, execErr = inventoryStmt.ExecContext(ctx,
				o.Source, o.Region, o.Product, o.Date.Format(model.DateLayout), nullable(o.Value), o.Unit, now)
		}
		if execErr != nil {
			result.Skipped = append(result.Skipped, store.SkippedRow{Key: o.Key(), Reason: execErr.Error()})
			continue
		}
		result.Applied++
	}

	return result, nil
}

func rowReason(o model.Observation) string {
	if o.Date.IsZero() {
		return "missing date"
	}
	if o.Source == "" {
		return "missing source"
	}
	switch o.Kind {
	case model.KindPrice:
		if o.SeriesID == "" {
			return "missing series id"
		}
	case model.KindInventory:
		if o.Region == "" || o.Product == "" {
			return "missing region or product"
		}
	default:
		return fmt.Sprintf("unknown kind %q", o.Kind)
	}
	return ""
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (s *Store) BeginFetch(ctx context.Context, source, endpoint, target string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_log (source, endpoint, target, started_at, status, records_fetched)
		VALUES (?, ?, ?, ?, ?, 0)
	`, source, endpoint, target, time.Now().UTC().Format(time.RFC3339), string(model.FetchInProgress))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) CompleteFetch(ctx context.Context, id int64, outcome store.FetchOutcome) error {
	if outcome.Status != model.FetchSuccess && outcome.Status != model.FetchError {
		return fmt.Errorf("sqlite: %q is not a terminal fetch status", outcome.Status)
	}

	var message any
	if outcome.Message != "" {
		message = outcome.Message
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE fetch_log
		SET status = ?, completed_at = ?, records_fetched = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, string(outcome.Status), time.Now().UTC().Format(time.RFC3339), outcome.Records, message, id, string(model.FetchInProgress))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	// Terminal rows are immutable; a second completion is a bug upstream.
	if affected == 0 {
		return fmt.Errorf("sqlite: fetch log entry %d is not in progress", id)
	}
	return nil
}

func (s *Store) ListPrices(ctx context.Context, filter store.PriceFilter) ([]store.PriceRow, error) {
	query := `SELECT id, source, series_id, date, value, unit, fetched_at FROM prices WHERE 1=1`
	args := []any{}
	if filter.SeriesID != "" {
		query += ` AND series_id = ?`
		args = append(args, filter.SeriesID)
	}
	if filter.Start != "" {
		query += ` AND date >= ?`
		args = append(args, filter.Start)
	}
	if filter.End != "" {
		query += ` AND date <= ?`
		args = append(args, filter.End)
	}
	query += ` ORDER BY date DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.PriceRow{}
	for rows.Next() {
		var (
			row       store.PriceRow
			value     sql.NullFloat64
			unit      sql.NullString
			fetchedAt string
		)
		if err := rows.Scan(&row.ID, &row.Source, &row.SeriesID, &row.Date, &value, &unit, &fetchedAt); err != nil {
			return nil, err
		}
		row.Value = floatPtr(value)
		row.Unit = unit.String
		row.FetchedAt = parseTime(fetchedAt)
		out = append(out, row)
	}
	return out, rows.Err()
}

const latestPricesSQL = `
	WITH ranked AS (
		SELECT series_id, date, value, unit, source,
			ROW_NUMBER() OVER (PARTITION BY series_id ORDER BY date DESC) AS rn
		FROM prices
	)
	SELECT
		series_id,
		MAX(CASE WHEN rn = 1 THEN date END) AS latest_date,
		MAX(CASE WHEN rn = 1 THEN value END) AS latest_value,
		MAX(CASE WHEN rn = 2 THEN value END) AS previous_value,
		MAX(CASE WHEN rn = 1 THEN unit END) AS unit,
		MAX(CASE WHEN rn = 1 THEN source END) AS source
	FROM ranked
	WHERE rn <= 2
	GROUP BY series_id
	ORDER BY series_id
`

func (s *Store) LatestPrices(ctx context.Context) ([]store.Latest, error) {
	rows, err := s.db.QueryContext(ctx, latestPricesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Latest{}
	for rows.Next() {
		var (
			entry            store.Latest
			latest, previous sql.NullFloat64
			unit, source     sql.NullString
		)
		if err := rows.Scan(&entry.SeriesID, &entry.Date, &latest, &previous, &unit, &source); err != nil {
			return nil, err
		}
		entry.Value = floatPtr(latest)
		entry.Previous = floatPtr(previous)
		entry.Unit = unit.String
		entry.Source = source.String
		entry.Change, entry.ChangePercent = change(entry.Value, entry.Previous)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) ListSeries(ctx context.Context) ([]store.SeriesSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT series_id, source, unit, COUNT(*), MIN(date), MAX(date)
		FROM prices
		GROUP BY series_id
		ORDER BY series_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.SeriesSummary{}
	for rows.Next() {
		var (
			summary store.SeriesSummary
			unit    sql.NullString
		)
		if err := rows.Scan(&summary.SeriesID, &summary.Source, &unit, &summary.RecordCount, &summary.FirstDate, &summary.LastDate); err != nil {
			return nil, err
		}
		summary.Unit = unit.String
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *Store) ListInventories(ctx context.Context, filter store.InventoryFilter) ([]store.InventoryRow, error) {
	query := `SELECT id, source, region, product, date, value, unit, fetched_at FROM inventories WHERE 1=1`
	args := []any{}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	if filter.Product != "" {
		query += ` AND product = ?`
		args = append(args, filter.Product)
	}
	if filter.Start != "" {
		query += ` AND date >= ?`
		args = append(args, filter.Start)
	}
	if filter.End != "" {
		query += ` AND date <= ?`
		args = append(args, filter.End)
	}
	query += ` ORDER BY date DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.InventoryRow{}
	for rows.Next() {
		var (
			row       store.InventoryRow
			value     sql.NullFloat64
			unit      sql.NullString
			fetchedAt string
		)
		if err := rows.Scan(&row.ID, &row.Source, &row.Region, &row.Product, &row.Date, &value, &unit, &fetchedAt); err != nil {
			return nil, err
		}
		row.Value = floatPtr(value)
		row.Unit = unit.String
		row.FetchedAt = parseTime(fetchedAt)
		out = append(out, row)
	}
	return out, rows.Err()
}

const latestInventoriesSQL = `
	WITH ranked AS (
		SELECT region, product, date, value, unit, source,
			ROW_NUMBER() OVER (PARTITION BY region, product ORDER BY date DESC) AS rn
		FROM inventories
	)
	SELECT
		region,
		product,
		MAX(CASE WHEN rn = 1 THEN date END) AS latest_date,
		MAX(CASE WHEN rn = 1 THEN value END) AS latest_value,
		MAX(CASE WHEN rn = 2 THEN value END) AS previous_value,
		MAX(CASE WHEN rn = 1 THEN unit END) AS unit,
		MAX(CASE WHEN rn = 1 THEN source END) AS source
	FROM ranked
	WHERE rn <= 2
	GROUP BY region, product
	ORDER BY region, product
`

func (s *Store) LatestInventories(ctx context.Context) ([]store.Latest, error) {
	rows, err := s.db.QueryContext(ctx, latestInventoriesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Latest{}
	for rows.Next() {
		var (
			entry            store.Latest
			latest, previous sql.NullFloat64
			unit, source     sql.NullString
		)
		if err := rows.Scan(&entry.Region, &entry.Product, &entry.Date, &latest, &previous, &unit, &source); err != nil {
			return nil, err
		}
		entry.Value = floatPtr(latest)
		entry.Previous = floatPtr(previous)
		entry.Unit = unit.String
		entry.Source = source.String
		entry.Change, entry.ChangePercent = change(entry.Value, entry.Previous)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) RecentFetches(ctx context.Context, limit int) ([]model.FetchLogEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, endpoint, target, started_at, completed_at, status, records_fetched, error_message
		FROM fetch_log
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.FetchLogEntry{}
	for rows.Next() {
		var (
			entry                     model.FetchLogEntry
			endpoint, target, message sql.NullString
			startedAt                 string
			completedAt               sql.NullString
			status                    string
		)
		if err := rows.Scan(&entry.ID, &entry.Source, &endpoint, &target, &startedAt, &completedAt, &status, &entry.RecordsFetched, &message); err != nil {
			return nil, err
		}
		entry.Endpoint = endpoint.String
		entry.Target = target.String
		entry.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			entry.CompletedAt = &t
		}
		entry.Status = model.FetchStatus(status)
		entry.ErrorMessage = message.String
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS prices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			series_id TEXT NOT NULL,
			date TEXT NOT NULL,
			value REAL,
			unit TEXT,
			fetched_at TEXT NOT NULL,
			UNIQUE (source, series_id, date)
		);`,
		`CREATE TABLE IF NOT EXISTS inventories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			region TEXT NOT NULL,
			product TEXT NOT NULL,
			date TEXT NOT NULL,
			value REAL,
			unit TEXT,
			fetched_at TEXT NOT NULL,
			UNIQUE (source, region, product, date)
		);`,
		`CREATE TABLE IF NOT EXISTS fetch_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			endpoint TEXT,
			target TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			status TEXT NOT NULL,
			records_fetched INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_log_started ON fetch_log (started_at);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func change(latest, previous *float64) (float64, float64) {
	if latest == nil || previous == nil || *previous == 0 {
		return 0, 0
	}
	delta := *latest - *previous
	return delta, delta / *previous * 100
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ store.Store = (*Store)(nil)
