// Package app wires the download pipeline, job ledger and metrics shared by
// the buseta commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/metronova/buseta/internal/config"
	"github.com/metronova/buseta/internal/db"
	"github.com/metronova/buseta/internal/download"
	"github.com/metronova/buseta/internal/metrics"
	"github.com/metronova/buseta/internal/promote"
	"github.com/metronova/buseta/internal/refresh"
)

// App holds the collaborators one command run needs
type App struct {
	Config   *config.Config
	Log      *zap.SugaredLogger
	Jobs     db.JobStore
	Metrics  *metrics.Collector
	Promoter *promote.FilePromoter
	Poller   *download.Poller
	Service  *refresh.Service
}

// New opens the job ledger and builds the pipeline. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*App, error) {
	jobs, err := db.Open(ctx, cfg.DatabaseURL, cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open job ledger: %w", err)
	}

	collector := metrics.NewCollector()
	promoter := promote.NewFilePromoter()
	downloader := download.NewHTTPDownloader(cfg.FetchTimeout, cfg.MaxConcurrentDownloads, logger)

	poller := download.NewPoller(downloader, promoter, cfg.PollInterval, logger)
	poller.SetRecorder(jobs)
	poller.SetObserver(collector)

	service := refresh.NewService(cfg, poller, logger)
	service.SetObserver(collector)

	return &App{
		Config:   cfg,
		Log:      logger,
		Jobs:     jobs,
		Metrics:  collector,
		Promoter: promoter,
		Poller:   poller,
		Service:  service,
	}, nil
}

// Home is the configured reference location
func (a *App) Home() refresh.StaticLocation {
	return refresh.StaticLocation{Lat: a.Config.HomeLatitude, Lon: a.Config.HomeLongitude}
}

// Close releases the job ledger
func (a *App) Close() error {
	return a.Jobs.Close()
}
