package main

import (
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		run(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: exporter run [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -db    sqlite database path (default: dieselwatch.db)")
	fmt.Fprintln(os.Stderr, "  -out   output directory (default: exports)")
}

func run(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dbPath := fs.String("db", "dieselwatch.db", "sqlite database path")
	outDir := fs.String("out", "exports", "output directory")
	fs.Parse(args)

	if err := export(*dbPath, *outDir); err != nil {
		fmt.Fprintln(os.Stderr, "export failed:", err)
		os.Exit(1)
	}
}

func export(dbPath, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	exports := []struct {
		file   string
		header []string
		query  string
	}{
		{
			file:   "prices.csv",
			header: []string{"source", "series_id", "date", "value", "unit", "fetched_at"},
			query: `SELECT source, series_id, date, value, unit, fetched_at
				FROM prices ORDER BY series_id, date`,
		},
		{
			file:   "inventories.csv",
			header: []string{"source", "region", "product", "date", "value", "unit", "fetched_at"},
			query: `SELECT source, region, product, date, value, unit, fetched_at
				FROM inventories ORDER BY region, product, date`,
		},
		{
			file:   "fetch_log.csv",
			header: []string{"id", "source", "endpoint", "target", "started_at", "completed_at", "status", "records_fetched", "error_message"},
			query: `SELECT id, source, endpoint, target, started_at, completed_at, status, records_fetched, error_message
				FROM fetch_log ORDER BY started_at, id`,
		},
	}

	for _, exp := range exports {
		count, err := exportQuery(db, filepath.Join(outDir, exp.file), exp.header, exp.query)
		if err != nil {
			return fmt.Errorf("%s: %w", exp.file, err)
		}
		fmt.Printf("exported %s rows=%d\n", exp.file, count)
	}
	return nil
}

func exportQuery(db *sql.DB, path string, header []string, query string) (int, error) {
	rows, err := db.Query(query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return 0, err
	}

	values := make([]any, len(header))
	scan := make([]any, len(header))
	for i := range values {
		scan[i] = &values[i]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return count, err
		}
		record := make([]string, len(values))
		for i, value := range values {
			record[i] = cell(value)
		}
		if err := writer.Write(record); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}

	writer.Flush()
	return count, writer.Error()
}

func cell(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(typed)
	case string:
		return typed
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}
