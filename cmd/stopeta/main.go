package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metronova/buseta/internal/app"
	"github.com/metronova/buseta/internal/config"
	"github.com/metronova/buseta/internal/download"
	"github.com/metronova/buseta/internal/export"
	"github.com/metronova/buseta/internal/logging"
	"github.com/metronova/buseta/internal/nearest"
	"github.com/metronova/buseta/internal/refresh"
)

func main() {
	mode := flag.String("mode", "report", "One of report, nearest, catalog, clean, export")
	lat := flag.Float64("lat", 0, "Reference latitude (defaults to HOME_LAT)")
	lon := flag.Float64("lon", 0, "Reference longitude (defaults to HOME_LON)")
	k := flag.Int("k", 0, "Number of nearest stops (defaults to CLOSEST_STOP_COUNT)")
	force := flag.Bool("force", false, "Download the catalog even when the local copy is fresh")
	out := flag.String("out", "", "Export target (defaults to EXPORT_PATH)")
	text := flag.Bool("text", false, "Write the export in protobuf text format")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatalw("Failed to load config", "error", err)
	}
	logger := logging.New(cfg.LogLevel)
	defer logging.Sync(logger)

	if *mode == "clean" {
		result, err := refresh.Clean(cfg.DataDir)
		if err != nil {
			logger.Fatalw("Clean failed", "error", err)
		}
		fmt.Printf("catalog removed: %v, eta files removed: %d, temp files removed: %d\n",
			result.CatalogRemoved, result.ETAFilesRemoved, result.TempFilesRemoved)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize pipeline", "error", err)
	}
	defer a.Close()

	point := nearest.Point(a.Home())
	if isFlagSet("lat") || isFlagSet("lon") {
		point = nearest.Point{Lat: *lat, Lon: *lon}
	}

	switch *mode {
	case "catalog":
		catalog, err := a.Service.RefreshCatalog(ctx, *force)
		if err != nil {
			logger.Fatalw("Catalog refresh failed", "error", err)
		}
		fmt.Printf("%d stops, generated %s, %d rejected\n",
			len(catalog.Stops), catalog.GeneratedAt.In(cfg.Location).Format(time.RFC3339), len(catalog.Rejected))

	case "nearest":
		if _, err := a.Service.RefreshCatalog(ctx, *force); err != nil {
			logger.Warnw("Catalog refresh failed, using local copy", "error", err)
		}
		ranked, _, err := a.Service.Nearest(point, *k)
		if err != nil {
			logger.Fatalw("Ranking failed", "error", err)
		}
		for _, s := range ranked.Stops {
			fmt.Printf("%s\t%s\n", s.ID, nearest.Describe(s))
		}

	case "report", "export":
		if *force {
			if _, err := a.Service.RefreshCatalog(ctx, true); err != nil {
				logger.Warnw("Catalog refresh failed", "error", err)
			}
		}
		report, err := a.Service.BuildReport(ctx, point, *k)
		if err != nil {
			logger.Fatalw("Report failed", "error", err)
		}

		if *mode == "report" {
			for _, line := range report.Lines() {
				fmt.Println(line)
			}
			if n := report.Failed(); n > 0 {
				logger.Warnw("Some stops could not be refreshed", "failed", n)
			}
			return
		}

		target := *out
		if target == "" {
			target = cfg.ExportPath
		}
		if target == "" {
			logger.Fatalw("No export target: pass -out or set EXPORT_PATH")
		}
		if err := export.WriteFeed(export.BuildFeed(report, time.Now()), target, *text, a.Promoter); err != nil {
			logger.Fatalw("Export failed", "error", err)
		}
		logger.Infow("Exported report", "path", target, "stops", len(report.Sections))

	default:
		logger.Fatalw("Unknown mode", "mode", *mode)
	}

	printStats(a)
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// printStats logs download timings for the run
func printStats(a *app.App) {
	stats := a.Metrics.FetchDurations()
	if stats.Count == 0 {
		return
	}
	jobs, err := a.Jobs.RecentJobs(context.Background(), stats.Count)
	if err != nil {
		a.Log.Warnw("Failed to read job ledger", "error", err)
		return
	}
	failed := 0
	for _, j := range jobs {
		if j.Status == download.StatusFailed.String() {
			failed++
		}
	}
	a.Log.Infow("Downloads",
		"count", stats.Count,
		"failed", failed,
		"mean_seconds", stats.Mean,
		"stddev_seconds", stats.StdDev)
}
