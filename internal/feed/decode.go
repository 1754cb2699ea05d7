package feed

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// envelope splits a payload into its top-level fields and raw data records
func envelope(raw []byte) (map[string]json.RawMessage, []json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil, nil, &MalformedPayload{Index: -1, Field: "", Reason: "payload is not a JSON object"}
	}

	data, ok := top["data"]
	if !ok || isNull(data) {
		return nil, nil, &MalformedPayload{Index: -1, Field: "data", Reason: "missing"}
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, nil, &MalformedPayload{Index: -1, Field: "data", Reason: "not an array"}
	}
	return top, records, nil
}

// fieldReader decodes one record's fields and keeps the first failure
type fieldReader struct {
	index  int
	fields map[string]json.RawMessage
	err    *MalformedPayload
}

func newFieldReader(index int, raw json.RawMessage) *fieldReader {
	r := &fieldReader{index: index}
	if err := json.Unmarshal(raw, &r.fields); err != nil || r.fields == nil {
		r.err = &MalformedPayload{Index: index, Field: "", Reason: "record is not a JSON object"}
	}
	return r
}

func (r *fieldReader) fail(field, reason string) {
	if r.err == nil {
		r.err = &MalformedPayload{Index: r.index, Field: field, Reason: reason}
	}
}

// str reads a required string field. Numbers are accepted and kept as written.
func (r *fieldReader) str(field string) string {
	if r.err != nil {
		return ""
	}
	raw, ok := r.fields[field]
	if !ok || isNull(raw) {
		r.fail(field, "missing")
		return ""
	}
	s, ok := scalarText(raw)
	if !ok {
		r.fail(field, "not a string")
	}
	return s
}

// optStr reads a field that may be absent, null or empty
func (r *fieldReader) optStr(field string) string {
	if r.err != nil {
		return ""
	}
	raw, ok := r.fields[field]
	if !ok || isNull(raw) {
		return ""
	}
	s, ok := scalarText(raw)
	if !ok {
		r.fail(field, "not a string")
	}
	return s
}

// coord reads a required decimal-degree value within ±limit
func (r *fieldReader) coord(field string, limit float64) float64 {
	if r.err != nil {
		return 0
	}
	raw, ok := r.fields[field]
	if !ok || isNull(raw) {
		r.fail(field, "missing")
		return 0
	}
	s, ok := scalarText(raw)
	if !ok {
		r.fail(field, "not numeric")
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		r.fail(field, "not numeric")
		return 0
	}
	if v < -limit || v > limit {
		r.fail(field, "out of range")
		return 0
	}
	return v
}

// scalarText returns the text of a JSON string or the literal of a JSON number
func scalarText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", false
		}
		return n.String(), true
	default:
		return "", false
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// ParseTimestamp accepts Unix epoch seconds or an RFC 3339 instant
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// topTimestamp reads a top-level timestamp field; missing yields the zero time
func topTimestamp(top map[string]json.RawMessage, field string, required bool) (time.Time, error) {
	raw, ok := top[field]
	if !ok || isNull(raw) {
		if required {
			return time.Time{}, &MalformedPayload{Index: -1, Field: field, Reason: "missing"}
		}
		return time.Time{}, nil
	}
	s, ok := scalarText(raw)
	if !ok {
		return time.Time{}, &MalformedPayload{Index: -1, Field: field, Reason: "not a string"}
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, &MalformedPayload{Index: -1, Field: field, Reason: "not a timestamp"}
	}
	return ts, nil
}
