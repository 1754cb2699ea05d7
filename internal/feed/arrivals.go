package feed

import (
	"time"
)

// ArrivalRecord is one upcoming arrival at a stop
type ArrivalRecord struct {
	Operator      string     `json:"co"`
	Route         string     `json:"route"`
	Direction     string     `json:"dir"`
	ServiceType   string     `json:"service_type"`
	Sequence      string     `json:"seq"`
	DestTC        string     `json:"dest_tc"`
	DestSC        string     `json:"dest_sc"`
	DestEn        string     `json:"dest_en"`
	ETASequence   string     `json:"eta_seq"`
	ETA           *time.Time `json:"eta"` // nil when there is no further service
	ETARaw        string     `json:"-"`
	RemarkTC      string     `json:"rmk_tc"`
	RemarkSC      string     `json:"rmk_sc"`
	RemarkEn      string     `json:"rmk_en"`
	DataTimestamp string     `json:"data_timestamp"`
}

// Feed is one stop's parsed arrival list
type Feed struct {
	GeneratedAt time.Time
	Arrivals    []ArrivalRecord
	Rejected    []*MalformedPayload
}

// ParseArrivals decodes one stop's arrival payload. An empty or unparsable
// eta is not a failure; the record keeps the raw text and a nil ETA.
func ParseArrivals(raw []byte) (Feed, error) {
	top, records, err := envelope(raw)
	if err != nil {
		return Feed{}, err
	}

	generatedAt, err := topTimestamp(top, "generated_timestamp", false)
	if err != nil {
		return Feed{}, err
	}

	feed := Feed{
		GeneratedAt: generatedAt,
		Arrivals:    make([]ArrivalRecord, 0, len(records)),
	}

	for i, rec := range records {
		r := newFieldReader(i, rec)
		a := ArrivalRecord{
			Operator:      r.str("co"),
			Route:         r.str("route"),
			Direction:     r.str("dir"),
			ServiceType:   r.str("service_type"),
			Sequence:      r.str("seq"),
			DestTC:        r.str("dest_tc"),
			DestSC:        r.str("dest_sc"),
			DestEn:        r.str("dest_en"),
			ETASequence:   r.optStr("eta_seq"),
			ETARaw:        r.optStr("eta"),
			RemarkTC:      r.optStr("rmk_tc"),
			RemarkSC:      r.optStr("rmk_sc"),
			RemarkEn:      r.optStr("rmk_en"),
			DataTimestamp: r.optStr("data_timestamp"),
		}
		if r.err != nil {
			feed.Rejected = append(feed.Rejected, r.err)
			continue
		}
		if a.ETARaw != "" {
			if ts, err := time.Parse(time.RFC3339, a.ETARaw); err == nil {
				a.ETA = &ts
			}
		}
		feed.Arrivals = append(feed.Arrivals, a)
	}

	return feed, nil
}
