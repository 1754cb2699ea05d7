// Package api serves nearest stops, arrival boards and the job ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metronova/buseta/internal/db"
	"github.com/metronova/buseta/internal/download"
	"github.com/metronova/buseta/internal/eta"
	"github.com/metronova/buseta/internal/feed"
	"github.com/metronova/buseta/internal/metrics"
	"github.com/metronova/buseta/internal/nearest"
	"github.com/metronova/buseta/internal/refresh"
)

// StopService defines the pipeline operations the handlers need
type StopService interface {
	Nearest(point nearest.Point, k int) (nearest.RankedStopList, feed.Catalog, error)
	RefreshStop(ctx context.Context, stopID string) (feed.Feed, error)
	LoadArrivals(stopID string) (feed.Feed, error)
	BuildReport(ctx context.Context, point nearest.Point, k int) (refresh.Report, error)
	Formatter() eta.Formatter
}

// JobLister defines the job ledger operations the handlers need
type JobLister interface {
	RecentJobs(ctx context.Context, limit int) ([]db.JobRecord, error)
}

// DurationStats reports running download-duration statistics
type DurationStats interface {
	FetchDurations() metrics.Snapshot
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Handler handles HTTP requests for stop and arrival data
type Handler struct {
	stops StopService
	jobs  JobLister
	stats DurationStats
	home  nearest.Point
	now   func() time.Time
}

// NewHandler creates a handler. home is used when a request has no lat/lon;
// stats may be nil.
func NewHandler(stops StopService, jobs JobLister, stats DurationStats, home nearest.Point) *Handler {
	return &Handler{stops: stops, jobs: jobs, stats: stats, home: home, now: time.Now}
}

// StopView is a ranked stop with its display distance
type StopView struct {
	feed.StopRecord
	Metres int64  `json:"metres"`
	Label  string `json:"label"`
}

// NearestResponse is the JSON response for GET /api/stops/nearest
type NearestResponse struct {
	Reference          nearest.Point `json:"reference"`
	Stops              []StopView    `json:"stops"`
	Count              int           `json:"count"`
	CatalogGeneratedAt time.Time     `json:"catalogGeneratedAt"`
}

// ArrivalsResponse is the JSON response for GET /api/stops/{stopId}/eta
type ArrivalsResponse struct {
	StopID      string               `json:"stopId"`
	Arrivals    []feed.ArrivalRecord `json:"arrivals"`
	Lines       []string             `json:"lines"`
	Rejected    int                  `json:"rejected"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

// ReportResponse is the JSON response for GET /api/report
type ReportResponse struct {
	refresh.Report
	Text   []string `json:"text"`
	Failed int      `json:"failed"`
}

// JobsResponse is the JSON response for GET /api/jobs
type JobsResponse struct {
	Jobs  []db.JobRecord `json:"jobs"`
	Count int            `json:"count"`
}

// Health handles GET /health with a job ledger connectivity check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]interface{}{
		"timestamp": h.now().UTC(),
	}
	if h.stats != nil {
		body["fetchDurations"] = h.stats.FetchDurations()
	}

	if _, err := h.jobs.RecentJobs(ctx, 1); err != nil {
		body["status"] = "error"
		body["database"] = "disconnected"
		body["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "ok"
	body["database"] = "connected"
	writeJSON(w, http.StatusOK, body)
}

// GetNearest handles GET /api/stops/nearest?lat=&lon=&k=
func (h *Handler) GetNearest(w http.ResponseWriter, r *http.Request) {
	point, k, ok := h.parseLocation(w, r)
	if !ok {
		return
	}

	ranked, catalog, err := h.stops.Nearest(point, k)
	if err != nil {
		writeError(w, statusFor(err), "Failed to rank stops", err)
		return
	}

	views := make([]StopView, 0, len(ranked.Stops))
	for _, s := range ranked.Stops {
		views = append(views, StopView{
			StopRecord: s,
			Metres:     int64(math.Round(nearest.Metres(*s.Distance))),
			Label:      nearest.Describe(s),
		})
	}

	writeJSON(w, http.StatusOK, NearestResponse{
		Reference:          ranked.Reference,
		Stops:              views,
		Count:              len(views),
		CatalogGeneratedAt: catalog.GeneratedAt,
	})
}

// GetStopArrivals handles GET /api/stops/{stopId}/eta
// The feed is downloaded again unless cached=true is given.
func (h *Handler) GetStopArrivals(w http.ResponseWriter, r *http.Request) {
	stopID := chi.URLParam(r, "stopId")
	if stopID == "" {
		writeError(w, http.StatusBadRequest, "stopId parameter is required", nil)
		return
	}

	var (
		f   feed.Feed
		err error
	)
	if r.URL.Query().Get("cached") == "true" {
		f, err = h.stops.LoadArrivals(stopID)
	} else {
		f, err = h.stops.RefreshStop(r.Context(), stopID)
	}
	if err != nil {
		writeError(w, statusFor(err), "Failed to retrieve arrivals", err, "stopId", stopID)
		return
	}

	now := h.now()
	writeJSON(w, http.StatusOK, ArrivalsResponse{
		StopID:      stopID,
		Arrivals:    f.Arrivals,
		Lines:       h.stops.Formatter().RenderAll(f.Arrivals, now),
		Rejected:    len(f.Rejected),
		GeneratedAt: f.GeneratedAt,
	})
}

// GetReport handles GET /api/report?lat=&lon=&k=
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	point, k, ok := h.parseLocation(w, r)
	if !ok {
		return
	}

	report, err := h.stops.BuildReport(r.Context(), point, k)
	if err != nil {
		writeError(w, statusFor(err), "Failed to build report", err)
		return
	}

	writeJSON(w, http.StatusOK, ReportResponse{
		Report: report,
		Text:   report.Lines(),
		Failed: report.Failed(),
	})
}

// GetJobs handles GET /api/jobs?limit=
func (h *Handler) GetJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}

	jobs, err := h.jobs.RecentJobs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve jobs", err)
		return
	}
	if jobs == nil {
		jobs = []db.JobRecord{}
	}

	writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs, Count: len(jobs)})
}

// parseLocation reads lat, lon and k, falling back to the home point
func (h *Handler) parseLocation(w http.ResponseWriter, r *http.Request) (nearest.Point, int, bool) {
	q := r.URL.Query()
	point := h.home

	if q.Get("lat") != "" || q.Get("lon") != "" {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			writeError(w, http.StatusBadRequest, "lat and lon must both be valid coordinates", nil)
			return nearest.Point{}, 0, false
		}
		point = nearest.Point{Lat: lat, Lon: lon}
	}

	k := 0
	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer", nil)
			return nearest.Point{}, 0, false
		}
		k = n
	}

	return point, k, true
}

// statusFor maps pipeline errors onto HTTP status codes
func statusFor(err error) int {
	var tf *download.TransferFailed
	var mp *feed.MalformedPayload
	switch {
	case errors.Is(err, refresh.ErrInvalidStopID):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.As(err, &tf):
		return http.StatusBadGateway
	case errors.As(err, &mp):
		return http.StatusBadGateway
	case errors.Is(err, download.ErrCanceled), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes an ErrorResponse; extra holds alternating detail keys and values
func writeError(w http.ResponseWriter, status int, message string, err error, extra ...interface{}) {
	resp := ErrorResponse{Error: message}
	if err != nil || len(extra) > 0 {
		resp.Details = map[string]interface{}{}
		if err != nil {
			resp.Details["internal"] = err.Error()
		}
		for i := 0; i+1 < len(extra); i += 2 {
			if key, ok := extra[i].(string); ok {
				resp.Details[key] = extra[i+1]
			}
		}
	}
	writeJSON(w, status, resp)
}
