// Package nearest ranks catalog stops by distance from a reference point.
package nearest

import (
	"sort"

	"github.com/metronova/buseta/internal/feed"
)

// RankedStopList holds up to k stops in ascending distance order. It is
// rebuilt on every selection and never modified afterwards.
type RankedStopList struct {
	Reference Point             `json:"reference"`
	Stops     []feed.StopRecord `json:"stops"`
}

// Select returns the k stops closest to ref. Ties keep catalog order, and
// fewer than k stops yields all of them. The input slice is not modified.
func Select(ref Point, stops []feed.StopRecord, k int) RankedStopList {
	ranked := make([]feed.StopRecord, len(stops))
	copy(ranked, stops)

	for i := range ranked {
		d := Distance(ref, Point{Lat: ranked[i].Latitude, Lon: ranked[i].Longitude})
		ranked[i].Distance = &d
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].Distance < *ranked[j].Distance
	})

	if k < 0 {
		k = 0
	}
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	return RankedStopList{Reference: ref, Stops: ranked}
}

// IDs returns the stop ids in rank order
func (l RankedStopList) IDs() []string {
	ids := make([]string, len(l.Stops))
	for i, s := range l.Stops {
		ids[i] = s.ID
	}
	return ids
}
