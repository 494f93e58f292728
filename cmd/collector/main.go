package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"dieselwatch/internal/config"
	"dieselwatch/internal/ingest"
	"dieselwatch/internal/model"
	"dieselwatch/internal/providers"
	"dieselwatch/internal/providers/eia"
	"dieselwatch/internal/providers/fred"
	"dieselwatch/internal/store"
	"dieselwatch/internal/store/sqlite"
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

func run(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	source := fs.String("source", "all", "source to ingest: all, fred, eia")
	selector := fs.String("selector", "", "single selector id (FRED series or EIA area); requires -source")
	months := fs.Int("months", 0, "months of history to fetch (default from config)")
	dbPath := fs.String("db", "", "sqlite database path (default from config; empty string uses config)")
	nop := fs.Bool("no-store", false, "disable persistence (dry run)")
	concurrency := fs.Int("concurrency", 0, "fan-out concurrency (default from config)")
	verbose := fs.Bool("verbose", false, "print each selector result")
	fs.Parse(args)

	if err := runCollector(*source, *selector, *months, *dbPath, *nop, *concurrency, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: collector run [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -source       source to ingest: all, fred, eia (default: all)")
	fmt.Fprintln(os.Stderr, "  -selector     single selector id; requires -source fred or eia")
	fmt.Fprintln(os.Stderr, "  -months       months of history to fetch")
	fmt.Fprintln(os.Stderr, "  -db           sqlite database path")
	fmt.Fprintln(os.Stderr, "  -no-store     disable persistence (dry run)")
	fmt.Fprintln(os.Stderr, "  -concurrency  fan-out concurrency (1 = sequential)")
	fmt.Fprintln(os.Stderr, "  -verbose      print each selector result")
}

func runCollector(source, selectorID string, months int, dbPath string, nop bool, concurrency int, verbose bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if months > 0 {
		cfg.FetchMonths = months
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if concurrency > 0 {
		cfg.FetchConcurrency = concurrency
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	registry := model.DefaultRegistry()

	st, err := openStore(cfg.DBPath, nop)
	if err != nil {
		return err
	}
	defer st.Close()

	adapters, err := buildAdapters(cfg, registry, log)
	if err != nil {
		return err
	}

	orchestrator, err := ingest.New(ingest.Config{
		Registry:    registry,
		Adapters:    adapters,
		Store:       st,
		Audit:       st,
		Logger:      log,
		Months:      cfg.FetchMonths,
		Concurrency: cfg.FetchConcurrency,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	window := model.TrailingMonths(cfg.FetchMonths, time.Now())

	if selectorID != "" {
		sourceName, err := sourceName(source)
		if err != nil {
			return err
		}
		summary := orchestrator.IngestSelector(ctx, model.Selector{Source: sourceName, ID: selectorID}, window)
		printResult(summary)
		if !summary.Succeeded {
			return fmt.Errorf("%s: %s", summary.Selector, summary.Error)
		}
		return nil
	}

	var summary model.RunSummary
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", "all":
		summary = orchestrator.IngestAll(ctx, window)
	default:
		sourceName, err := sourceName(source)
		if err != nil {
			return err
		}
		summary = orchestrator.IngestSource(ctx, sourceName, window)
	}

	if verbose {
		for _, result := range summary.Results {
			printResult(result)
		}
	}
	fmt.Printf("collector run complete (run=%s selectors=%d succeeded=%d failed=%d records=%d)\n",
		summary.RunID, summary.TotalSelectors, summary.Succeeded,
		summary.TotalSelectors-summary.Succeeded, summary.TotalRecordsApplied,
	)
	return nil
}

func printResult(result model.FetchSummary) {
	if result.Succeeded {
		fmt.Printf("ok   %-22s records=%d skipped=%d range=%q\n",
			result.Selector, result.RecordsApplied, result.PointsSkipped, result.DateRange)
		return
	}
	fmt.Printf("fail %-22s error=%s\n", result.Selector, result.Error)
}

func sourceName(source string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "fred":
		return model.SourceFRED, nil
	case "eia":
		return model.SourceEIA, nil
	default:
		return "", fmt.Errorf("unknown source: %s", source)
	}
}

func openStore(path string, nop bool) (store.Store, error) {
	if nop || strings.TrimSpace(path) == "" {
		return &store.NopStore{}, nil
	}
	return sqlite.New(path)
}

func buildAdapters(cfg *config.Config, registry model.Registry, log *slog.Logger) ([]providers.Adapter, error) {
	fredCfg := fred.ConfigFromEnv()
	if cfg.FredAPIKey != "" {
		fredCfg.APIKey = cfg.FredAPIKey
	}
	fredProvider, err := fred.NewWithConfig(fredCfg, registry, log)
	if err != nil {
		return nil, err
	}

	eiaCfg := eia.ConfigFromEnv()
	if cfg.EIAAPIKey != "" {
		eiaCfg.APIKey = cfg.EIAAPIKey
	}
	eiaProvider, err := eia.NewWithConfig(eiaCfg, registry, log)
	if err != nil {
		return nil, err
	}

	return []providers.Adapter{fredProvider, eiaProvider}, nil
}
