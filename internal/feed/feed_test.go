package feed

import (
	"errors"
	"testing"
	"time"
)

const catalogJSON = `{
  "type": "StopList",
  "generated_timestamp": "1609459200",
  "data": [
    {"stop": "A1", "name_en": "STAR FERRY", "name_tc": "尖沙咀碼頭", "name_sc": "尖沙咀码头", "lat": "22.29400", "long": "114.16860"},
    {"stop": "B2", "name_en": "CHUNG KING", "name_tc": "重慶大廈", "name_sc": "重庆大厦", "long": "114.17200"},
    {"stop": "C3", "name_en": "MIRADOR", "name_tc": "美麗都", "name_sc": "美丽都", "lat": 22.29610, "long": 114.17240}
  ]
}`

func TestParseCatalog_RejectsMissingLatOnly(t *testing.T) {
	catalog, err := ParseCatalog([]byte(catalogJSON))
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}

	if len(catalog.Stops) != 2 {
		t.Fatalf("expected 2 stops, got %d", len(catalog.Stops))
	}
	if catalog.Stops[0].ID != "A1" || catalog.Stops[1].ID != "C3" {
		t.Errorf("stops = %s, %s", catalog.Stops[0].ID, catalog.Stops[1].ID)
	}
	if len(catalog.Rejected) != 1 {
		t.Fatalf("expected 1 rejected record, got %d", len(catalog.Rejected))
	}
	rej := catalog.Rejected[0]
	if rej.Field != "lat" || rej.Index != 1 {
		t.Errorf("rejected = %+v, expected field lat at index 1", rej)
	}
}

func TestParseCatalog_CoordinatesAndTimestamp(t *testing.T) {
	catalog, err := ParseCatalog([]byte(catalogJSON))
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	if !catalog.GeneratedAt.Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("GeneratedAt = %v", catalog.GeneratedAt)
	}

	a1 := catalog.Stops[0]
	if a1.Latitude != 22.294 || a1.Longitude != 114.1686 {
		t.Errorf("A1 coordinates = %v, %v", a1.Latitude, a1.Longitude)
	}
	if a1.NameTC != "尖沙咀碼頭" {
		t.Errorf("A1 name_tc = %q", a1.NameTC)
	}
	if a1.Distance != nil {
		t.Error("distance must be unset before selection")
	}

	c3, ok := catalog.Lookup("C3")
	if !ok || c3.Latitude != 22.2961 {
		t.Errorf("Lookup(C3) = %+v, %v", c3, ok)
	}
}

func TestParseCatalog_RFC3339Timestamp(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`{"generated_timestamp":"2021-01-01T08:00:00+08:00","data":[]}`))
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	if !catalog.GeneratedAt.Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("GeneratedAt = %v", catalog.GeneratedAt)
	}
}

func TestParseCatalog_RecordRejections(t *testing.T) {
	tests := []struct {
		name   string
		record string
		field  string
	}{
		{"lat not numeric", `{"stop":"X","name_en":"a","name_tc":"b","name_sc":"c","lat":"north","long":"114.1"}`, "lat"},
		{"lat is an object", `{"stop":"X","name_en":"a","name_tc":"b","name_sc":"c","lat":{},"long":"114.1"}`, "lat"},
		{"long out of range", `{"stop":"X","name_en":"a","name_tc":"b","name_sc":"c","lat":"22.3","long":"514.1"}`, "long"},
		{"missing name", `{"stop":"X","name_tc":"b","name_sc":"c","lat":"22.3","long":"114.1"}`, "name_en"},
		{"name is a bool", `{"stop":"X","name_en":true,"name_tc":"b","name_sc":"c","lat":"22.3","long":"114.1"}`, "name_en"},
		{"empty id", `{"stop":"","name_en":"a","name_tc":"b","name_sc":"c","lat":"22.3","long":"114.1"}`, "stop"},
		{"not an object", `"A1"`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload := `{"generated_timestamp":"1609459200","data":[` + tc.record + `]}`
			catalog, err := ParseCatalog([]byte(payload))
			if err != nil {
				t.Fatalf("ParseCatalog failed: %v", err)
			}
			if len(catalog.Stops) != 0 || len(catalog.Rejected) != 1 {
				t.Fatalf("stops=%d rejected=%d", len(catalog.Stops), len(catalog.Rejected))
			}
			if catalog.Rejected[0].Field != tc.field {
				t.Errorf("field = %q, expected %q", catalog.Rejected[0].Field, tc.field)
			}
		})
	}
}

func TestParseCatalog_DuplicateID(t *testing.T) {
	payload := `{"generated_timestamp":"1609459200","data":[
		{"stop":"A","name_en":"a","name_tc":"a","name_sc":"a","lat":"22.1","long":"114.1"},
		{"stop":"A","name_en":"b","name_tc":"b","name_sc":"b","lat":"22.2","long":"114.2"}]}`
	catalog, err := ParseCatalog([]byte(payload))
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	if len(catalog.Stops) != 1 || catalog.Stops[0].NameEn != "a" {
		t.Errorf("expected the first A to win, got %+v", catalog.Stops)
	}
	if len(catalog.Rejected) != 1 || catalog.Rejected[0].Index != 1 {
		t.Errorf("rejected = %+v", catalog.Rejected)
	}
}

func TestParseCatalog_WholePayloadFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"not json", `{oops`, ""},
		{"array", `[]`, ""},
		{"no data", `{"generated_timestamp":"1609459200"}`, "data"},
		{"data not array", `{"generated_timestamp":"1609459200","data":{}}`, "data"},
		{"no timestamp", `{"data":[]}`, "generated_timestamp"},
		{"bad timestamp", `{"generated_timestamp":"yesterday","data":[]}`, "generated_timestamp"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tc.payload))
			var mp *MalformedPayload
			if !errors.As(err, &mp) {
				t.Fatalf("expected *MalformedPayload, got %v", err)
			}
			if mp.Index != -1 || mp.Field != tc.field {
				t.Errorf("got %+v, expected index -1 field %q", mp, tc.field)
			}
		})
	}
}

const etaJSON = `{
  "type": "StopETA",
  "generated_timestamp": "2021-01-01T08:00:05+08:00",
  "data": [
    {"co":"KMB","route":"1A","dir":"O","service_type":1,"seq":5,"dest_tc":"中秀茂坪","dest_sc":"中秀茂坪","dest_en":"SAU MAU PING (CENTRAL)","eta_seq":1,"eta":"2021-01-01T08:05:00+08:00","rmk_tc":"","rmk_sc":"","rmk_en":"","data_timestamp":"2021-01-01T08:00:00+08:00"},
    {"co":"KMB","route":"1A","dir":"O","service_type":1,"seq":5,"dest_tc":"中秀茂坪","dest_sc":"中秀茂坪","dest_en":"SAU MAU PING (CENTRAL)","eta_seq":2,"eta":null,"rmk_tc":"最後班次已過","rmk_sc":null,"rmk_en":"Final Bus Departed","data_timestamp":"2021-01-01T08:00:00+08:00"},
    {"co":"KMB","dir":"I","service_type":"1","seq":"3","dest_tc":"尖沙咀碼頭","dest_sc":"尖沙咀码头","dest_en":"STAR FERRY","eta":"2021-01-01T08:10:00+08:00"}
  ]
}`

func TestParseArrivals(t *testing.T) {
	feed, err := ParseArrivals([]byte(etaJSON))
	if err != nil {
		t.Fatalf("ParseArrivals failed: %v", err)
	}
	if len(feed.Arrivals) != 2 {
		t.Fatalf("expected 2 arrivals, got %d", len(feed.Arrivals))
	}
	if len(feed.Rejected) != 1 || feed.Rejected[0].Field != "route" {
		t.Errorf("rejected = %+v, expected route", feed.Rejected)
	}

	first := feed.Arrivals[0]
	if first.ServiceType != "1" || first.Sequence != "5" || first.ETASequence != "1" {
		t.Errorf("numeric fields not kept as text: %+v", first)
	}
	if first.ETA == nil || !first.ETA.Equal(time.Date(2021, 1, 1, 0, 5, 0, 0, time.UTC)) {
		t.Errorf("ETA = %v", first.ETA)
	}

	second := feed.Arrivals[1]
	if second.ETA != nil || second.ETARaw != "" {
		t.Errorf("null eta should stay absent, got %v %q", second.ETA, second.ETARaw)
	}
	if second.RemarkEn != "Final Bus Departed" || second.RemarkSC != "" {
		t.Errorf("remarks = %q / %q", second.RemarkEn, second.RemarkSC)
	}
	if feed.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not parsed")
	}
}

func TestParseArrivals_UnparsableETAKeepsRecord(t *testing.T) {
	payload := `{"data":[{"co":"KMB","route":"2","dir":"O","service_type":"1","seq":"1","dest_tc":"a","dest_sc":"a","dest_en":"a","eta":"soon"}]}`
	feed, err := ParseArrivals([]byte(payload))
	if err != nil {
		t.Fatalf("ParseArrivals failed: %v", err)
	}
	if len(feed.Arrivals) != 1 {
		t.Fatalf("expected 1 arrival, got %d", len(feed.Arrivals))
	}
	if feed.Arrivals[0].ETA != nil || feed.Arrivals[0].ETARaw != "soon" {
		t.Errorf("arrival = %+v", feed.Arrivals[0])
	}
}

func TestParseArrivals_EmptyData(t *testing.T) {
	feed, err := ParseArrivals([]byte(`{"data":[]}`))
	if err != nil {
		t.Fatalf("ParseArrivals failed: %v", err)
	}
	if len(feed.Arrivals) != 0 || !feed.GeneratedAt.IsZero() {
		t.Errorf("feed = %+v", feed)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in       string
		expected time.Time
		ok       bool
	}{
		{"1609459200", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{" 1609459200 ", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"2021-01-01T08:00:00+08:00", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"2021-01-01", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimestamp(tc.in)
			if (err == nil) != tc.ok {
				t.Fatalf("ParseTimestamp(%q) err = %v", tc.in, err)
			}
			if tc.ok && !got.Equal(tc.expected) {
				t.Errorf("ParseTimestamp(%q) = %v, expected %v", tc.in, got, tc.expected)
			}
		})
	}
}
