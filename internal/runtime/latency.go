package runtime

import (
	"math"
	"slices"
	"sync"
	"time"
)

const handlerLatencySamples = 256

// LatencySummary summarises the most recent handler durations of a loop.
type LatencySummary struct {
	Samples int           `json:"samples"`
	Mean    time.Duration `json:"mean_ns"`
	P50     time.Duration `json:"p50_ns"`
	P95     time.Duration `json:"p95_ns"`
	P99     time.Duration `json:"p99_ns"`
	Last    time.Duration `json:"last_ns"`
}

// latencyRing keeps the last N handler durations.
type latencyRing struct {
	mu    sync.Mutex
	ring  []time.Duration
	pos   int
	count int
	last  time.Duration
}

func newLatencyRing(size int) *latencyRing {
	if size <= 0 {
		size = handlerLatencySamples
	}
	return &latencyRing{ring: make([]time.Duration, size)}
}

func (r *latencyRing) observe(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.pos] = d
	r.pos = (r.pos + 1) % len(r.ring)
	r.count = min(r.count+1, len(r.ring))
	r.last = d
}

func (r *latencyRing) summary() LatencySummary {
	r.mu.Lock()
	sorted := make([]time.Duration, r.count)
	if r.count == len(r.ring) {
		copy(sorted, r.ring)
	} else {
		copy(sorted, r.ring[:r.count])
	}
	last := r.last
	r.mu.Unlock()

	out := LatencySummary{Samples: len(sorted), Last: last}
	if len(sorted) == 0 {
		return out
	}
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	out.Mean = total / time.Duration(len(sorted))
	out.P50 = quantile(sorted, 0.50)
	out.P95 = quantile(sorted, 0.95)
	out.P99 = quantile(sorted, 0.99)
	return out
}

// quantile interpolates linearly between the two closest ranks of sorted.
func quantile(sorted []time.Duration, q float64) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	rank := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(rank)), int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + time.Duration(float64(sorted[hi]-sorted[lo])*(rank-float64(lo)))
}
