// Package metrics exposes download and refresh activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/metronova/buseta/internal/download"
	"github.com/metronova/buseta/internal/promote"
)

type Collector struct {
	reg *prometheus.Registry

	PollTicks     *prometheus.CounterVec // status label
	JobsFinished  *prometheus.CounterVec // status, reason labels
	BytesFetched  prometheus.Counter
	FetchDuration prometheus.Histogram
	Promotions    *prometheus.CounterVec // result label
	Rejected      *prometheus.CounterVec // payload label: catalog|eta
	Refreshes     *prometheus.CounterVec // kind, outcome labels
	CatalogStops  prometheus.Gauge
	CatalogAge    prometheus.Gauge // seconds

	durations RunningStats
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		PollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buseta_poll_ticks_total",
			Help: "Download status samples taken by pollers.",
		}, []string{"status"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buseta_jobs_finished_total",
			Help: "Download jobs that reached a terminal state.",
		}, []string{"status", "reason"}),
		BytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buseta_bytes_fetched_total",
			Help: "Bytes written by finished download jobs.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "buseta_fetch_duration_seconds",
			Help:    "Time from enqueue to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buseta_promotions_total",
			Help: "Promotion attempts by result.",
		}, []string{"result"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buseta_rejected_records_total",
			Help: "Payload records rejected as malformed.",
		}, []string{"payload"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buseta_refreshes_total",
			Help: "Catalog and arrival refreshes by outcome.",
		}, []string{"kind", "outcome"}),
		CatalogStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buseta_catalog_stops",
			Help: "Stops in the loaded catalog.",
		}),
		CatalogAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buseta_catalog_age_seconds",
			Help: "Age of the loaded catalog at load time.",
		}),
	}

	reg.MustRegister(
		c.PollTicks, c.JobsFinished, c.BytesFetched, c.FetchDuration,
		c.Promotions, c.Rejected, c.Refreshes, c.CatalogStops, c.CatalogAge,
	)

	return c
}

// ObservePoll counts one status sample
func (c *Collector) ObservePoll(status download.Status) {
	c.PollTicks.WithLabelValues(status.String()).Inc()
}

// ObserveOutcome records a terminal job
func (c *Collector) ObserveOutcome(job download.FetchJob) {
	reason := job.Reason.String()
	if reason == "" {
		reason = "none"
	}
	c.JobsFinished.WithLabelValues(job.Status.String(), reason).Inc()
	c.BytesFetched.Add(float64(job.BytesDownloaded))
	if d := job.Duration(); d > 0 {
		c.FetchDuration.Observe(d.Seconds())
		c.durations.Update(d.Seconds())
	}
}

// ObservePromotion counts one promotion attempt
func (c *Collector) ObservePromotion(result promote.Result) {
	c.Promotions.WithLabelValues(result.String()).Inc()
}

// ObserveRejected adds n rejected records for a payload kind
func (c *Collector) ObserveRejected(payload string, n int) {
	if n > 0 {
		c.Rejected.WithLabelValues(payload).Add(float64(n))
	}
}

// ObserveRefresh counts one refresh of kind (catalog|eta)
func (c *Collector) ObserveRefresh(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Refreshes.WithLabelValues(kind, outcome).Inc()
}

// ObserveCatalog records the size and age of a freshly loaded catalog
func (c *Collector) ObserveCatalog(stops int, generatedAt time.Time) {
	c.CatalogStops.Set(float64(stops))
	if !generatedAt.IsZero() {
		c.CatalogAge.Set(time.Since(generatedAt).Seconds())
	}
}

// FetchDurations returns running statistics of job durations in seconds
func (c *Collector) FetchDurations() Snapshot {
	return c.durations.Snapshot()
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("Metrics server error", "error", err)
		}
	}()
	logger.Infow("Metrics listening", "addr", addr)
	return srv
}
