package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/metronova/buseta/internal/app"
	"github.com/metronova/buseta/internal/config"
	"github.com/metronova/buseta/internal/export"
	"github.com/metronova/buseta/internal/logging"
	"github.com/metronova/buseta/internal/refresh"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatalw("Failed to load config", "error", err)
	}
	logger := logging.New(cfg.LogLevel)
	defer logging.Sync(logger)

	logger.Infow("Starting buseta poller",
		"refresh_interval", cfg.RefreshInterval,
		"poll_interval", cfg.PollInterval,
		"retention", cfg.RetentionDuration,
		"data_dir", cfg.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Job ledger and pipeline
	// ═══════════════════════════════════════════════════════
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize pipeline", "error", err)
	}
	defer a.Close()

	if cfg.MetricsAddr != "" {
		srv := a.Metrics.Serve(cfg.MetricsAddr, logger)
		defer srv.Close()
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Stop catalog (startup)
	// ═══════════════════════════════════════════════════════
	if _, err := a.Service.RefreshCatalog(ctx, false); err != nil {
		// Continue anyway - reports fall back to the local catalog
		logger.Warnw("Catalog refresh failed", "error", err)
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Refresh loops
	// ═══════════════════════════════════════════════════════
	logger.Infow("Running initial refresh")
	refreshOnce(ctx, a)

	wait := startLoops(ctx, a, catalogCheckInterval)

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Graceful shutdown
	// ═══════════════════════════════════════════════════════
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Infow("Shutting down")
	cancel()

	// The ledger is closed by the deferred a.Close, after the loops are done
	wait()
	logger.Infow("Goodbye")
}

const catalogCheckInterval = 24 * time.Hour

// startLoops runs the report loop every RefreshInterval and the catalog
// freshness check every catalogEvery until ctx is done. The returned func
// blocks until both loops have returned.
func startLoops(ctx context.Context, a *app.App, catalogEvery time.Duration) func() {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(a.Config.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				refreshOnce(ctx, a)
			case <-ctx.Done():
				a.Log.Infow("Refresh loop stopped")
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(catalogEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.Log.Infow("Running daily catalog freshness check")
				if _, err := a.Service.RefreshCatalog(ctx, false); err != nil {
					a.Log.Warnw("Daily catalog refresh failed", "error", err)
				}
			case <-ctx.Done():
				a.Log.Infow("Catalog loop stopped")
				return
			}
		}
	}()

	return wg.Wait
}

func refreshOnce(ctx context.Context, a *app.App) {
	report, err := a.Service.ReportFor(ctx, a.Home(), 0)
	if err != nil {
		a.Log.Warnw("Report failed", "error", err)
	} else {
		a.Log.Infow("Report refreshed", "stops", len(report.Sections), "failed", report.Failed())
		for _, line := range report.Lines() {
			a.Log.Debugw(line)
		}

		if path := a.Config.ExportPath; path != "" {
			feed := export.BuildFeed(report, time.Now())
			if err := export.WriteFeed(feed, path, false, a.Promoter); err != nil {
				a.Log.Warnw("Export failed", "path", path, "error", err)
			}
		}
	}

	if err := a.Jobs.Cleanup(ctx, a.Config.RetentionDuration); err != nil {
		a.Log.Warnw("Cleanup error", "error", err)
	}

	removed, err := refresh.SweepTempFiles(a.Config.DataDir, tempFileMaxAge(a.Config), time.Now())
	if err != nil {
		a.Log.Warnw("Temp file sweep error", "error", err)
	} else if removed > 0 {
		a.Log.Infow("Removed stale temp files", "count", removed)
	}
}

// tempFileMaxAge is older than any single transfer can run
func tempFileMaxAge(cfg *config.Config) time.Duration {
	age := 2 * cfg.FetchTimeout
	if age < time.Minute {
		age = time.Minute
	}
	return age
}
