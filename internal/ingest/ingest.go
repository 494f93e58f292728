// Package ingest drives the fetch → upsert → audit pipeline for one selector
// and fans it out across the selector registry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dieselwatch/internal/metrics"
	"dieselwatch/internal/model"
	"dieselwatch/internal/providers"
	"dieselwatch/internal/store"
)

// Config wires the orchestrator. Registry and adapters are injected so tests
// can run against fakes; Concurrency <= 1 means sequential fan-out.
type Config struct {
	Registry    model.Registry
	Adapters    []providers.Adapter
	Store       store.ObservationStore
	Audit       store.AuditLog
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Months      int
	Concurrency int
}

type Orchestrator struct {
	registry    model.Registry
	adapters    map[string]providers.Adapter
	store       store.ObservationStore
	audit       store.AuditLog
	metrics     *metrics.Metrics
	log         *slog.Logger
	months      int
	concurrency int
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("ingest: audit log is required")
	}
	if len(cfg.Adapters) == 0 {
		return nil, errors.New("ingest: at least one adapter is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Months <= 0 {
		cfg.Months = 24
	}

	adapters := make(map[string]providers.Adapter, len(cfg.Adapters))
	for _, adapter := range cfg.Adapters {
		adapters[adapter.Source()] = adapter
	}

	return &Orchestrator{
		registry:    cfg.Registry,
		adapters:    adapters,
		store:       cfg.Store,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.With("component", "ingest"),
		months:      cfg.Months,
		concurrency: cfg.Concurrency,
	}, nil
}

// IngestSelector runs one selector's pipeline: begin audit row, fetch, apply,
// complete audit row. The audit row always reaches a terminal state, whatever
// path the pipeline takes, and records the applied-to-storage count.
func (o *Orchestrator) IngestSelector(ctx context.Context, selector model.Selector, window model.DateRange) model.FetchSummary {
	if window.IsZero() {
		window = model.TrailingMonths(o.months, time.Now())
	}
	summary := model.FetchSummary{
		Selector:  selector,
		DateRange: window.String(),
	}
	started := time.Now()

	adapter := o.adapters[selector.Source]
	endpoint := ""
	if adapter != nil {
		endpoint = adapter.Endpoint()
	}

	logID, err := o.audit.BeginFetch(ctx, selector.Source, endpoint, o.target(selector))
	if err != nil {
		summary.Error = fmt.Sprintf("audit log unavailable: %v", err)
		o.log.Error("begin fetch failed", "selector", selector.String(), "error", err)
		return summary
	}

	completed := false
	complete := func(outcome store.FetchOutcome) {
		if completed {
			return
		}
		completed = true
		// The caller's context may already be canceled by the time the
		// pipeline fails; the audit row must still reach a terminal state.
		auditCtx := context.WithoutCancel(ctx)
		if err := o.audit.CompleteFetch(auditCtx, logID, outcome); err != nil {
			o.log.Error("complete fetch failed", "selector", selector.String(), "log_id", logID, "error", err)
		}
		o.metrics.ObserveFetch(selector.Source, string(outcome.Status), time.Since(started), outcome.Records, summary.PointsSkipped)
	}
	defer func() {
		// Catches early returns and panics alike: no row stays in_progress.
		complete(store.Failure(errors.New("ingestion aborted")))
	}()

	if adapter == nil {
		err := fmt.Errorf("no adapter for source %q", selector.Source)
		summary.Error = err.Error()
		complete(store.Failure(err))
		return summary
	}

	observations, err := adapter.Fetch(ctx, selector, window)
	if err != nil {
		summary.Error = err.Error()
		complete(store.Failure(err))
		return summary
	}

	result, err := o.store.UpsertObservations(ctx, observations)
	if err != nil {
		summary.Error = err.Error()
		complete(store.Failure(err))
		return summary
	}
	for _, skipped := range result.Skipped {
		o.log.Warn("row skipped", "selector", selector.String(), "key", skipped.Key, "reason", skipped.Reason)
	}

	summary.Succeeded = true
	summary.RecordsApplied = result.Applied
	summary.PointsSkipped = len(result.Skipped)
	complete(store.Success(result.Applied))

	o.log.Info("selector ingested",
		"selector", selector.String(),
		"records_applied", result.Applied,
		"rows_skipped", len(result.Skipped),
		"window", window.String(),
	)
	return summary
}

// IngestAll fans the per-selector pipeline out across the whole registry.
// Selectors are independent: one failure never stops the others, and the run
// summary reports per-selector outcomes plus totals.
func (o *Orchestrator) IngestAll(ctx context.Context, window model.DateRange) model.RunSummary {
	return o.run(ctx, o.registry.Selectors(), window)
}

// IngestSource fans out over the registry selectors belonging to one source.
func (o *Orchestrator) IngestSource(ctx context.Context, source string, window model.DateRange) model.RunSummary {
	selectors := []model.Selector{}
	for _, selector := range o.registry.Selectors() {
		if strings.EqualFold(selector.Source, source) {
			selectors = append(selectors, selector)
		}
	}
	return o.run(ctx, selectors, window)
}

// Selectors exposes the injected registry's selector list.
func (o *Orchestrator) Selectors() []model.Selector {
	return o.registry.Selectors()
}

// KnownSelector reports whether the registry contains the selector.
func (o *Orchestrator) KnownSelector(selector model.Selector) bool {
	switch selector.Source {
	case model.SourceFRED:
		_, ok := o.registry.LookupSeries(selector.ID)
		return ok
	case model.SourceEIA:
		_, ok := o.registry.LookupArea(selector.ID)
		return ok
	default:
		return false
	}
}

func (o *Orchestrator) run(ctx context.Context, selectors []model.Selector, window model.DateRange) model.RunSummary {
	summary := model.RunSummary{
		RunID:          uuid.NewString(),
		TotalSelectors: len(selectors),
		Results:        make([]model.FetchSummary, len(selectors)),
	}
	log := o.log.With("run_id", summary.RunID)
	log.Info("ingestion run starting", "selectors", len(selectors), "concurrency", o.concurrency)

	if o.concurrency > 1 {
		var wg sync.WaitGroup
		sem := make(chan struct{}, o.concurrency)
		for i, selector := range selectors {
			wg.Add(1)
			go func(i int, selector model.Selector) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				summary.Results[i] = o.IngestSelector(ctx, selector, window)
			}(i, selector)
		}
		wg.Wait()
	} else {
		for i, selector := range selectors {
			summary.Results[i] = o.IngestSelector(ctx, selector, window)
		}
	}

	for _, result := range summary.Results {
		if result.Succeeded {
			summary.Succeeded++
			summary.TotalRecordsApplied += result.RecordsApplied
		}
	}

	log.Info("ingestion run complete",
		"succeeded", summary.Succeeded,
		"failed", summary.TotalSelectors-summary.Succeeded,
		"records_applied", summary.TotalRecordsApplied,
	)
	return summary
}

// target is the audit row's target label: the series id for prices,
// "distillate_<region>" for stocks.
func (o *Orchestrator) target(selector model.Selector) string {
	if selector.Source == model.SourceEIA {
		if area, ok := o.registry.LookupArea(selector.ID); ok {
			return "distillate_" + area.Region
		}
	}
	return selector.ID
}
