package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyRingSummary(t *testing.T) {
	r := newLatencyRing(4)
	assert.Equal(t, LatencySummary{}, r.summary())

	for _, ms := range []int{40, 10, 30, 20} {
		r.observe(time.Duration(ms) * time.Millisecond)
	}
	s := r.summary()
	assert.Equal(t, 4, s.Samples)
	assert.Equal(t, 25*time.Millisecond, s.Mean)
	assert.Equal(t, 25*time.Millisecond, s.P50)
	assert.Equal(t, 20*time.Millisecond, s.Last)
	assert.InDelta(t, float64(38500*time.Microsecond), float64(s.P95), float64(time.Microsecond))
}

func TestLatencyRingOverwritesOldest(t *testing.T) {
	r := newLatencyRing(2)
	r.observe(time.Second)
	r.observe(2 * time.Millisecond)
	r.observe(4 * time.Millisecond)

	s := r.summary()
	assert.Equal(t, 2, s.Samples)
	assert.Equal(t, 3*time.Millisecond, s.Mean)
	assert.InDelta(t, float64(3980*time.Microsecond), float64(s.P99), float64(time.Microsecond))
}

func TestQuantileBounds(t *testing.T) {
	sorted := []time.Duration{1, 2, 3}
	assert.Equal(t, time.Duration(0), quantile(nil, 0.5))
	assert.Equal(t, time.Duration(1), quantile(sorted, 0))
	assert.Equal(t, time.Duration(3), quantile(sorted, 1))
	assert.Equal(t, time.Duration(2), quantile(sorted, 0.5))
}

func TestConsumerLoopRecordsHandlerLatency(t *testing.T) {
	backend := &scriptedBackend{}
	backend.push(notificationMessage(t, "m-1", `{}`, nil))

	loop := newTestLoop(t, backend, func(context.Context, *Delivery) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})
	_, err := loop.RunOnce(context.Background())
	require.NoError(t, err)

	s := loop.Latency()
	assert.Equal(t, 1, s.Samples)
	assert.GreaterOrEqual(t, s.Last, 2*time.Millisecond)
	assert.Equal(t, testQueueURL, loop.QueueURL())
}
