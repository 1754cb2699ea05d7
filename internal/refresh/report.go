package refresh

import (
	"context"
	"time"

	"github.com/metronova/buseta/internal/feed"
	"github.com/metronova/buseta/internal/nearest"
)

// Section is one stop of a report
type Section struct {
	Stop     feed.StopRecord      `json:"stop"`
	Arrivals []feed.ArrivalRecord `json:"arrivals"`
	Lines    []string             `json:"lines"`
	Error    string               `json:"error,omitempty"`
}

// Report is the combined arrival board for the stops nearest a point
type Report struct {
	GeneratedAt        time.Time     `json:"generated_at"`
	CatalogGeneratedAt time.Time     `json:"catalog_generated_at"`
	Reference          nearest.Point `json:"reference"`
	Sections           []Section     `json:"sections"`
}

// Lines renders the report as text: each stop's Chinese name followed by
// its arrival lines
func (r Report) Lines() []string {
	var out []string
	for _, sec := range r.Sections {
		out = append(out, sec.Stop.NameTC)
		switch {
		case sec.Error != "":
			out = append(out, "unavailable: "+sec.Error)
		case len(sec.Lines) == 0:
			out = append(out, "no arrivals")
		default:
			out = append(out, sec.Lines...)
		}
	}
	return out
}

// Failed counts sections whose stop could not be refreshed
func (r Report) Failed() int {
	n := 0
	for _, sec := range r.Sections {
		if sec.Error != "" {
			n++
		}
	}
	return n
}

// BuildReport refreshes the catalog if needed, selects the k nearest stops
// and refreshes each of their feeds. A failed catalog download falls back to
// the local copy; failed stops are reported in their own section.
func (s *Service) BuildReport(ctx context.Context, point nearest.Point, k int) (Report, error) {
	catalog, err := s.RefreshCatalog(ctx, false)
	if err != nil {
		local, loadErr := s.LoadCatalog()
		if loadErr != nil {
			return Report{}, err
		}
		s.log.Warnw("Catalog refresh failed, using local copy", "error", err)
		catalog = local
	}

	ranked := nearest.Select(point, catalog.Stops, s.stopCount(k))
	results := s.RefreshArrivals(ctx, ranked.Stops)
	now := s.now()

	report := Report{
		GeneratedAt:        now,
		CatalogGeneratedAt: catalog.GeneratedAt,
		Reference:          point,
		Sections:           make([]Section, 0, len(results)),
	}
	for _, res := range results {
		sec := Section{Stop: res.Stop}
		if res.Err != nil {
			sec.Error = res.Err.Error()
			s.log.Warnw("Stop refresh failed", "stop", res.Stop.ID, "error", res.Err)
		} else {
			sec.Arrivals = res.Feed.Arrivals
			sec.Lines = s.formatter.RenderAll(res.Feed.Arrivals, now)
		}
		report.Sections = append(report.Sections, sec)
	}

	return report, nil
}

// ReportFor builds a report around the supplier's current location
func (s *Service) ReportFor(ctx context.Context, loc LocationSupplier, k int) (Report, error) {
	point, err := loc.Location(ctx)
	if err != nil {
		return Report{}, err
	}
	return s.BuildReport(ctx, point, k)
}
