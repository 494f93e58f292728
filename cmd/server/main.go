package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dieselwatch/internal/api"
	"dieselwatch/internal/config"
	"dieselwatch/internal/ingest"
	"dieselwatch/internal/metrics"
	"dieselwatch/internal/model"
	"dieselwatch/internal/providers"
	"dieselwatch/internal/providers/eia"
	"dieselwatch/internal/providers/fred"
	"dieselwatch/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server failed:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	registry := model.DefaultRegistry()

	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	adapters, err := buildAdapters(cfg, registry, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	orchestrator, err := ingest.New(ingest.Config{
		Registry:    registry,
		Adapters:    adapters,
		Store:       st,
		Audit:       st,
		Metrics:     m,
		Logger:      log,
		Months:      cfg.FetchMonths,
		Concurrency: cfg.FetchConcurrency,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	api.NewServer(st, orchestrator, registry, m, log, cfg.FetchMonths).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr, "db", cfg.DBPath)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
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
