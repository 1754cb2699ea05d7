// Package eta turns arrival records into minutes-remaining display lines.
package eta

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/metronova/buseta/internal/feed"
)

// ErrNoActiveService means the arrival carries no usable ETA
var ErrNoActiveService = errors.New("no active service")

// NoServiceText replaces the time columns when an arrival has no ETA
const NoServiceText = "no further service"

// MinutesRemaining returns whole minutes from now until eta, rounded down.
// Past ETAs give negative values.
func MinutesRemaining(eta, now time.Time) int {
	return int(math.Floor(eta.Sub(now).Minutes()))
}

// Formatter renders arrivals with clock times in Location
type Formatter struct {
	Location *time.Location
}

// Render returns "co route dir serviceType destTc HH:MM Nmin(s)"
func (f Formatter) Render(a feed.ArrivalRecord, now time.Time) (string, error) {
	if a.ETA == nil {
		return "", ErrNoActiveService
	}
	at := *a.ETA
	if f.Location != nil {
		at = at.In(f.Location)
	}
	return fmt.Sprintf("%s %dmin(s)", f.prefix(a, at.Format("15:04")), MinutesRemaining(*a.ETA, now)), nil
}

// RenderAll renders every arrival, substituting a no-service line where
// Render fails
func (f Formatter) RenderAll(arrivals []feed.ArrivalRecord, now time.Time) []string {
	lines := make([]string, 0, len(arrivals))
	for _, a := range arrivals {
		line, err := f.Render(a, now)
		if err != nil {
			line = f.NoServiceLine(a)
		}
		lines = append(lines, line)
	}
	return lines
}

// NoServiceLine is the line shown for an arrival without an ETA
func (f Formatter) NoServiceLine(a feed.ArrivalRecord) string {
	line := f.prefix(a, NoServiceText)
	if a.RemarkTC != "" {
		line += " (" + a.RemarkTC + ")"
	}
	return line
}

func (f Formatter) prefix(a feed.ArrivalRecord, tail string) string {
	return fmt.Sprintf("%s %s %s %s %s %s", a.Operator, a.Route, a.Direction, a.ServiceType, a.DestTC, tail)
}
