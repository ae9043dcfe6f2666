package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTracker_Empty(t *testing.T) {
	assert.Equal(t, LatencyStats{}, NewLatencyTracker(10).Stats())
}

func TestLatencyTracker_Stats(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    LatencyStats
	}{
		{
			name:    "single",
			samples: []float64{42.5},
			want:    LatencyStats{Count: 1, Mean: 42.5, P50: 42.5, P95: 42.5, P99: 42.5, Max: 42.5},
		},
		{
			name:    "unsorted input",
			samples: []float64{30, 10, 20, 40},
			want:    LatencyStats{Count: 4, Mean: 25, P50: 20, P95: 40, P99: 40, Max: 40},
		},
		{
			name:    "negative dropped",
			samples: []float64{-5, 8},
			want:    LatencyStats{Count: 1, Mean: 8, P50: 8, P95: 8, P99: 8, Max: 8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lt := NewLatencyTracker(100)
			for _, s := range tt.samples {
				lt.Record(s)
			}
			assert.Equal(t, tt.want, lt.Stats())
		})
	}
}

func TestLatencyTracker_Hundred(t *testing.T) {
	lt := NewLatencyTracker(1000)
	for i := 1; i <= 100; i++ {
		lt.Record(float64(i))
	}
	s := lt.Stats()
	assert.Equal(t, 100, s.Count)
	assert.InDelta(t, 50.5, s.Mean, 1e-9)
	assert.Equal(t, 50.0, s.P50)
	assert.Equal(t, 95.0, s.P95)
	assert.Equal(t, 99.0, s.P99)
	assert.Equal(t, 100.0, s.Max)
}

func TestLatencyTracker_KeepsMostRecent(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 25; i++ {
		lt.Record(float64(i))
	}
	require.Equal(t, 10, lt.Count())
	s := lt.Stats()
	assert.InDelta(t, 20.5, s.Mean, 1e-9, "holds 16..25")
	assert.Equal(t, 25.0, s.Max)
}

func TestLatencyTracker_ConcurrentRecord(t *testing.T) {
	lt := NewLatencyTracker(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				lt.Record(1)
				_ = lt.Stats()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, lt.Count())
}
