package metrics

import (
	"math"
	"sync"
)

// RunningStats keeps a count, mean and variance of observations using
// Welford's online algorithm, so no observations are stored.
type RunningStats struct {
	mu    sync.Mutex
	count int
	mean  float64
	m2    float64 // sum of squared differences from the mean
}

// Update adds one observation
func (w *RunningStats) Update(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	delta := v - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (v - w.mean)
}

// Snapshot is a point-in-time copy of RunningStats
type Snapshot struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Snapshot returns the current values. StdDev is the population standard
// deviation and is 0 with fewer than two observations.
func (w *RunningStats) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Snapshot{Count: w.count, Mean: w.mean}
	if w.count >= 2 {
		s.StdDev = math.Sqrt(w.m2 / float64(w.count))
	}
	return s
}
