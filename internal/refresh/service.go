// Package refresh drives the fetch, promote and parse pipeline for the stop
// catalog and per-stop arrival feeds.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/metronova/buseta/internal/config"
	"github.com/metronova/buseta/internal/download"
	"github.com/metronova/buseta/internal/eta"
	"github.com/metronova/buseta/internal/feed"
	"github.com/metronova/buseta/internal/nearest"
	"github.com/metronova/buseta/internal/promote"
)

// Fetcher is satisfied by *download.Poller
type Fetcher interface {
	Fetch(ctx context.Context, req download.Request, onProgress download.ProgressFunc) (download.Outcome, error)
}

// Observer is satisfied by *metrics.Collector
type Observer interface {
	ObserveRejected(payload string, n int)
	ObserveRefresh(kind string, err error)
	ObserveCatalog(stops int, generatedAt time.Time)
}

// Service owns no state between calls besides its collaborators; every
// operation re-reads the files it needs
type Service struct {
	cfg       *config.Config
	paths     Paths
	fetcher   Fetcher
	formatter eta.Formatter
	log       *zap.SugaredLogger
	observer  Observer

	retryInitial time.Duration
	now          func() time.Time
}

// NewService wires a pipeline over cfg.DataDir
func NewService(cfg *config.Config, fetcher Fetcher, logger *zap.SugaredLogger) *Service {
	return &Service{
		cfg:          cfg,
		paths:        Paths{DataDir: cfg.DataDir},
		fetcher:      fetcher,
		formatter:    eta.Formatter{Location: cfg.Location},
		log:          logger,
		retryInitial: 500 * time.Millisecond,
		now:          time.Now,
	}
}

// SetObserver attaches a metrics sink
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Paths returns the file layout in use
func (s *Service) Paths() Paths {
	return s.paths
}

// Formatter returns the arrival formatter in use
func (s *Service) Formatter() eta.Formatter {
	return s.formatter
}

// RefreshCatalog downloads the stop catalog unless the local copy is younger
// than CatalogMaxAge, then returns the parsed catalog
func (s *Service) RefreshCatalog(ctx context.Context, force bool) (feed.Catalog, error) {
	if !force {
		if catalog, err := s.LoadCatalog(); err == nil && !isStale(catalog.GeneratedAt, s.cfg.CatalogMaxAge, s.now()) {
			s.log.Debugw("Catalog is fresh, skipping download", "generated_at", catalog.GeneratedAt)
			return catalog, nil
		}
	}

	path := s.paths.CatalogPath()
	if _, err := s.fetchWithRetry(ctx, s.cfg.CatalogURL, path); err != nil {
		s.observeRefresh("catalog", err)
		return feed.Catalog{}, fmt.Errorf("refresh catalog: %w", err)
	}

	catalog, err := s.LoadCatalog()
	s.observeRefresh("catalog", err)
	if err != nil {
		return feed.Catalog{}, err
	}
	s.log.Infow("Catalog refreshed", "stops", len(catalog.Stops), "rejected", len(catalog.Rejected),
		"generated_at", catalog.GeneratedAt)
	return catalog, nil
}

// LoadCatalog parses the canonical catalog file
func (s *Service) LoadCatalog() (feed.Catalog, error) {
	path := s.paths.CatalogPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return feed.Catalog{}, fmt.Errorf("read catalog: %w", err)
	}

	catalog, err := feed.ParseCatalog(data)
	if err != nil {
		return feed.Catalog{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if n := len(catalog.Rejected); n > 0 {
		s.log.Warnw("Catalog records rejected", "count", n, "first", catalog.Rejected[0].Error())
	}
	if s.observer != nil {
		s.observer.ObserveRejected("catalog", len(catalog.Rejected))
		s.observer.ObserveCatalog(len(catalog.Stops), catalog.GeneratedAt)
	}
	return catalog, nil
}

// Nearest ranks the locally stored catalog around point. k <= 0 uses the
// configured ClosestStopCount.
func (s *Service) Nearest(point nearest.Point, k int) (nearest.RankedStopList, feed.Catalog, error) {
	catalog, err := s.LoadCatalog()
	if err != nil {
		return nearest.RankedStopList{}, feed.Catalog{}, err
	}
	return nearest.Select(point, catalog.Stops, s.stopCount(k)), catalog, nil
}

// StopArrivals is the result of refreshing one stop. Err is set instead of
// Feed when that stop failed.
type StopArrivals struct {
	Stop feed.StopRecord
	Feed feed.Feed
	Err  error
}

// RefreshArrivals fetches and parses every stop's feed concurrently and
// returns once all of them have finished, in the order of stops. One stop
// failing does not affect the others.
func (s *Service) RefreshArrivals(ctx context.Context, stops []feed.StopRecord) []StopArrivals {
	results := make([]StopArrivals, len(stops))

	var wg sync.WaitGroup
	for i, stop := range stops {
		wg.Add(1)
		go func(i int, stop feed.StopRecord) {
			defer wg.Done()
			f, err := s.RefreshStop(ctx, stop.ID)
			results[i] = StopArrivals{Stop: stop, Feed: f, Err: err}
		}(i, stop)
	}
	wg.Wait()

	return results
}

// RefreshStop fetches and parses one stop's arrival feed
func (s *Service) RefreshStop(ctx context.Context, stopID string) (feed.Feed, error) {
	path, err := s.paths.ETAPath(stopID)
	if err != nil {
		return feed.Feed{}, err
	}

	if _, err := s.fetchWithRetry(ctx, s.etaURL(stopID), path); err != nil {
		s.observeRefresh("eta", err)
		return feed.Feed{}, fmt.Errorf("refresh stop %s: %w", stopID, err)
	}

	f, err := s.LoadArrivals(stopID)
	s.observeRefresh("eta", err)
	return f, err
}

// LoadArrivals parses the canonical feed file of one stop
func (s *Service) LoadArrivals(stopID string) (feed.Feed, error) {
	path, err := s.paths.ETAPath(stopID)
	if err != nil {
		return feed.Feed{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return feed.Feed{}, fmt.Errorf("read arrivals for %s: %w", stopID, err)
	}

	f, err := feed.ParseArrivals(data)
	if err != nil {
		return feed.Feed{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if n := len(f.Rejected); n > 0 {
		s.log.Warnw("Arrival records rejected", "stop", stopID, "count", n, "first", f.Rejected[0].Error())
	}
	if s.observer != nil {
		s.observer.ObserveRejected("eta", len(f.Rejected))
	}
	return f, nil
}

func (s *Service) etaURL(stopID string) string {
	return strings.TrimSuffix(s.cfg.ETABaseURL, "/") + "/" + url.PathEscape(stopID)
}

func (s *Service) stopCount(k int) int {
	if k <= 0 {
		return s.cfg.ClosestStopCount
	}
	return k
}

func (s *Service) observeRefresh(kind string, err error) {
	if s.observer != nil {
		s.observer.ObserveRefresh(kind, err)
	}
}

// fetchWithRetry re-enqueues a failed transfer with a fresh temporary path.
// Cancellation and failures that need operator action are not retried.
func (s *Service) fetchWithRetry(ctx context.Context, sourceURL, canonical string) (download.Outcome, error) {
	attempts := s.cfg.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retryInitial
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	attempt := 0
	outcome, err := backoff.RetryNotifyWithData(func() (download.Outcome, error) {
		attempt++
		req := download.Request{
			URL:           sourceURL,
			TemporaryPath: TempPath(canonical),
			CanonicalPath: canonical,
		}
		outcome, err := s.fetcher.Fetch(ctx, req, nil)
		if err == nil {
			return outcome, nil
		}
		if errors.Is(err, download.ErrCanceled) || ctx.Err() != nil {
			return outcome, backoff.Permanent(err)
		}
		var tf *download.TransferFailed
		if errors.As(err, &tf) && !tf.Temporary() {
			return outcome, backoff.Permanent(err)
		}
		return outcome, err
	}, b, func(err error, d time.Duration) {
		s.log.Warnw("Fetch failed, retrying", "url", sourceURL, "attempt", attempt, "backoff", d, "error", err)
	})
	if err != nil {
		return outcome, err
	}

	if outcome.Promotion == promote.SourceMissing {
		s.log.Debugw("Nothing to promote, keeping existing file", "path", canonical)
	}
	return outcome, nil
}

// isStale reports whether a catalog generated at generatedAt is older than
// maxAge. A zero maxAge always refreshes.
func isStale(generatedAt time.Time, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 || generatedAt.IsZero() {
		return true
	}
	return now.Sub(generatedAt) > maxAge
}
