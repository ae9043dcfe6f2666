package gateway

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LatencyStats summarizes recent update-to-delivery latencies.
type LatencyStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// LatencyTracker keeps the last N portfolio update latencies (ms), measured
// from the update timestamp to the moment the hub fans it out.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: make([]float64, 0, capacity)}
}

// Record adds a latency sample in milliseconds. Negative samples (clock
// skew between replicas) are ignored.
func (lt *LatencyTracker) Record(ms float64) {
	if ms < 0 {
		return
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if !lt.full {
		lt.samples = append(lt.samples, ms)
		lt.full = len(lt.samples) == cap(lt.samples)
		return
	}
	lt.samples[lt.next] = ms
	lt.next = (lt.next + 1) % len(lt.samples)
}

// Stats returns the summary of the held samples, zero before the first one.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	sorted := append([]float64(nil), lt.samples...)
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(sorted)
	q := func(p float64) float64 { return stat.Quantile(p, stat.Empirical, sorted, nil) }
	return LatencyStats{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		P50:   q(0.50),
		P95:   q(0.95),
		P99:   q(0.99),
		Max:   floats.Max(sorted),
	}
}

// Count returns the number of samples held.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.samples)
}
