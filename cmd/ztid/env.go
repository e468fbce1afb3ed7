package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ztid/go-backend/internal/config"
	"ztid/go-backend/internal/metrics"
	"ztid/go-backend/internal/platform/logging"
)

// runtimeEnv carries what every subcommand shares once config is loaded.
type runtimeEnv struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collectors
}

func loadEnv(configPath string) (*runtimeEnv, error) {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &runtimeEnv{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry),
	}, nil
}

// serveMetrics starts the /metrics listener when one is configured. It stops with ctx.
func (e *runtimeEnv) serveMetrics(ctx context.Context) {
	addr := e.cfg.Metrics.ListenAddress
	if addr == "" {
		return
	}
	go func() {
		e.logger.Info("metrics listening", "addr", addr)
		if err := metrics.Serve(ctx, addr, e.registry); err != nil {
			e.logger.Error("metrics server failed", "error", err.Error())
		}
	}()
}
