package eta

import (
	"errors"
	"testing"
	"time"

	"github.com/metronova/buseta/internal/feed"
)

var hongKong = time.FixedZone("HKT", 8*60*60)

func TestMinutesRemaining(t *testing.T) {
	now := time.Date(2021, 1, 1, 8, 0, 0, 0, hongKong)
	tests := []struct {
		name     string
		eta      time.Time
		expected int
	}{
		{"now", now, 0},
		{"five minutes", now.Add(5 * time.Minute), 5},
		{"just under a minute", now.Add(59 * time.Second), 0},
		{"ninety seconds", now.Add(90 * time.Second), 1},
		{"thirty seconds ago", now.Add(-30 * time.Second), -1},
		{"ten minutes ago", now.Add(-10 * time.Minute), -10},
		{"other zone", time.Date(2021, 1, 1, 0, 3, 0, 0, time.UTC), 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MinutesRemaining(tc.eta, now); got != tc.expected {
				t.Errorf("MinutesRemaining = %d, expected %d", got, tc.expected)
			}
		})
	}
}

func arrival(eta *time.Time) feed.ArrivalRecord {
	return feed.ArrivalRecord{
		Operator:    "KMB",
		Route:       "1A",
		Direction:   "O",
		ServiceType: "1",
		DestTC:      "中秀茂坪",
		ETA:         eta,
	}
}

func TestRender(t *testing.T) {
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	at := time.Date(2021, 1, 1, 0, 5, 0, 0, time.UTC)

	f := Formatter{Location: hongKong}
	line, err := f.Render(arrival(&at), now)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if expected := "KMB 1A O 1 中秀茂坪 08:05 5min(s)"; line != expected {
		t.Errorf("Render = %q, expected %q", line, expected)
	}
}

func TestRender_PastETA(t *testing.T) {
	now := time.Date(2021, 1, 1, 0, 5, 0, 0, time.UTC)
	at := time.Date(2021, 1, 1, 0, 3, 0, 0, time.UTC)

	line, err := Formatter{}.Render(arrival(&at), now)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if expected := "KMB 1A O 1 中秀茂坪 00:03 -2min(s)"; line != expected {
		t.Errorf("Render = %q, expected %q", line, expected)
	}
}

func TestRender_NoActiveService(t *testing.T) {
	_, err := Formatter{}.Render(arrival(nil), time.Now())
	if !errors.Is(err, ErrNoActiveService) {
		t.Fatalf("expected ErrNoActiveService, got %v", err)
	}
}

func TestRenderAll(t *testing.T) {
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	at := now.Add(12 * time.Minute)
	departed := arrival(nil)
	departed.RemarkTC = "最後班次已過"

	lines := Formatter{Location: hongKong}.RenderAll([]feed.ArrivalRecord{arrival(&at), departed, arrival(nil)}, now)

	expected := []string{
		"KMB 1A O 1 中秀茂坪 08:12 12min(s)",
		"KMB 1A O 1 中秀茂坪 no further service (最後班次已過)",
		"KMB 1A O 1 中秀茂坪 no further service",
	}
	if len(lines) != len(expected) {
		t.Fatalf("got %d lines, expected %d", len(lines), len(expected))
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("line %d = %q, expected %q", i, lines[i], expected[i])
		}
	}
}
