// Package feed decodes the stop catalog and per-stop arrival payloads.
//
// Records are decoded independently: a bad record is rejected with a
// *MalformedPayload naming the field, and its siblings still decode. Only a
// payload that is not an object, or has no data array, fails as a whole.
package feed

import (
	"fmt"
	"time"
)

// StopRecord is one stop of the catalog
type StopRecord struct {
	ID        string   `json:"stop"`
	NameEn    string   `json:"name_en"`
	NameTC    string   `json:"name_tc"`
	NameSC    string   `json:"name_sc"`
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"long"`
	Distance  *float64 `json:"distance,omitempty"` // set by nearest.Select
}

// Catalog is a parsed stop-catalog snapshot
type Catalog struct {
	GeneratedAt time.Time
	Stops       []StopRecord
	Rejected    []*MalformedPayload
}

// ParseCatalog decodes a stop-catalog payload
func ParseCatalog(raw []byte) (Catalog, error) {
	top, records, err := envelope(raw)
	if err != nil {
		return Catalog{}, err
	}

	generatedAt, err := topTimestamp(top, "generated_timestamp", true)
	if err != nil {
		return Catalog{}, err
	}

	catalog := Catalog{
		GeneratedAt: generatedAt,
		Stops:       make([]StopRecord, 0, len(records)),
	}
	seen := make(map[string]int, len(records))

	for i, rec := range records {
		r := newFieldReader(i, rec)
		stop := StopRecord{
			ID:        r.str("stop"),
			NameEn:    r.str("name_en"),
			NameTC:    r.str("name_tc"),
			NameSC:    r.str("name_sc"),
			Latitude:  r.coord("lat", 90),
			Longitude: r.coord("long", 180),
		}
		if r.err == nil && stop.ID == "" {
			r.fail("stop", "empty")
		}
		if r.err == nil {
			if first, dup := seen[stop.ID]; dup {
				r.fail("stop", fmt.Sprintf("duplicate of record %d", first))
			}
		}
		if r.err != nil {
			catalog.Rejected = append(catalog.Rejected, r.err)
			continue
		}
		seen[stop.ID] = i
		catalog.Stops = append(catalog.Stops, stop)
	}

	return catalog, nil
}

// Lookup returns the stop with the given id
func (c Catalog) Lookup(id string) (StopRecord, bool) {
	for _, s := range c.Stops {
		if s.ID == id {
			return s, true
		}
	}
	return StopRecord{}, false
}
