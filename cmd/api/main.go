package main

import (
	"context"
	"net/http"

	"github.com/metronova/buseta/internal/api"
	"github.com/metronova/buseta/internal/app"
	"github.com/metronova/buseta/internal/config"
	"github.com/metronova/buseta/internal/logging"
	"github.com/metronova/buseta/internal/nearest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatalw("Failed to load config", "error", err)
	}
	logger := logging.New(cfg.LogLevel)
	defer logging.Sync(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize pipeline", "error", err)
	}
	defer a.Close()

	handler := api.NewHandler(a.Service, a.Jobs, a.Metrics, nearest.Point(a.Home()))
	router := api.NewRouter(handler, cfg.AllowedOrigins, a.Metrics.Handler())

	logger.Infow("API server starting", "port", cfg.Port, "origins", cfg.AllowedOrigins)
	logger.Infow("Stop endpoints:")
	logger.Infow("  GET /api/stops/nearest?lat=&lon=&k=")
	logger.Infow("  GET /api/stops/{stopId}/eta[?cached=true]")
	logger.Infow("  GET /api/report?lat=&lon=&k=")
	logger.Infow("Ledger endpoints:")
	logger.Infow("  GET /api/jobs?limit=")
	logger.Infow("Health:")
	logger.Infow("  GET /health (with database check)")
	logger.Infow("  GET /metrics")

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logger.Fatalw("Server failed to start", "error", err)
	}
}
