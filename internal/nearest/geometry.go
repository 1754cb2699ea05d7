package nearest

import (
	"fmt"
	"math"

	"github.com/metronova/buseta/internal/feed"
)

// MetresPerDegree converts a degree-space distance into metres for display
const MetresPerDegree = 111139

// Point is a position in decimal degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Distance is the planar distance between two points in degree units.
// It is not geodesic and is only meaningful over short ranges.
func Distance(a, b Point) float64 {
	dLat := a.Lat - b.Lat
	dLon := a.Lon - b.Lon
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// Metres converts a degree-space distance to metres
func Metres(d float64) float64 {
	return d * MetresPerDegree
}

// Describe renders a ranked stop as "<name_tc> <metres>m"
func Describe(stop feed.StopRecord) string {
	if stop.Distance == nil {
		return stop.NameTC
	}
	return fmt.Sprintf("%s %dm", stop.NameTC, int64(math.Round(Metres(*stop.Distance))))
}
