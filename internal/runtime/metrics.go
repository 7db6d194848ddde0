package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks consumer cycle outcomes and publish results.
type Metrics struct {
	mu sync.RWMutex

	// Per-queue counts
	queueCounts map[string]*QueueMetrics
	published   uint64

	// Prometheus collectors
	outcomesTotal    *prometheus.CounterVec
	inFlight         *prometheus.GaugeVec
	handlerDuration  *prometheus.HistogramVec
	receiveCountHist *prometheus.HistogramVec
	publishedTotal   *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// QueueMetrics holds the cycle counters of one queue.
type QueueMetrics struct {
	Received        uint64    `json:"received"`
	Deleted         uint64    `json:"deleted"`
	Empty           uint64    `json:"empty"`
	Malformed       uint64    `json:"malformed"`
	HandlerFailures uint64    `json:"handler_failures"`
	DeleteFailures  uint64    `json:"delete_failures"`
	ReceiveFailures uint64    `json:"receive_failures"`
	Redelivered     uint64    `json:"redelivered"`
	LastDeliveryAt  time.Time `json:"last_delivery_at,omitempty"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// MetricsSnapshot provides a point-in-time view of all queues.
type MetricsSnapshot struct {
	TotalDeleted  uint64                   `json:"total_deleted"`
	TotalFailures uint64                   `json:"total_failures"`
	Published     uint64                   `json:"published"`
	Queues        map[string]*QueueMetrics `json:"queues"`
	CollectedAt   time.Time                `json:"collected_at"`
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snsbridge",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(subsystem, name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "snsbridge",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "snsbridge",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewMetrics creates collectors bound to registerer, or the default registerer
// when nil. Call Register before use.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		queueCounts:      make(map[string]*QueueMetrics),
		registerer:       registerer,
		outcomesTotal:    newCounterVec("consumer", "cycles_total", "Consumer cycles by outcome", []string{"queue", "outcome"}),
		inFlight:         newGaugeVec("consumer", "in_flight", "Whether the consumer currently holds a delivery", []string{"queue"}),
		handlerDuration:  newHistogramVec("consumer", "handler_duration_seconds", "Time spent in the handler per delivery", prometheus.DefBuckets, []string{"queue"}),
		receiveCountHist: newHistogramVec("consumer", "receive_count", "Approximate receive count of each delivery", []float64{1, 2, 3, 5, 10, 20}, []string{"queue"}),
		publishedTotal:   newCounterVec("publisher", "messages_total", "Publish attempts by result", []string{"topic", "result"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.outcomesTotal,
		m.inFlight,
		m.handlerDuration,
		m.receiveCountHist,
		m.publishedTotal,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordOutcome counts one finished cycle.
func (m *Metrics) RecordOutcome(queue string, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateQueueMetrics(queue)
	now := time.Now()
	switch outcome {
	case OutcomeNone:
		metrics.Empty++
	case OutcomeDeleted:
		metrics.Received++
		metrics.Deleted++
		metrics.LastDeliveryAt = now
	case OutcomeMalformed:
		metrics.Received++
		metrics.Malformed++
		metrics.LastDeliveryAt = now
	case OutcomeHandlerFailed:
		metrics.Received++
		metrics.HandlerFailures++
		metrics.LastDeliveryAt = now
	case OutcomeDeleteFailed:
		metrics.Received++
		metrics.DeleteFailures++
		metrics.LastDeliveryAt = now
	case OutcomeReceiveFailed:
		metrics.ReceiveFailures++
	}
	metrics.LastUpdatedAt = now

	m.outcomesTotal.WithLabelValues(queue, outcome.String()).Inc()
}

// RecordDelivery observes a delivery entering Processing.
func (m *Metrics) RecordDelivery(queue string, receiveCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if receiveCount > 1 {
		m.getOrCreateQueueMetrics(queue).Redelivered++
	}
	if receiveCount > 0 {
		m.receiveCountHist.WithLabelValues(queue).Observe(float64(receiveCount))
	}
}

// ObserveHandler records how long a handler ran.
func (m *Metrics) ObserveHandler(queue string, d time.Duration) {
	m.handlerDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// SetInFlight mirrors whether the queue's loop holds a delivery.
func (m *Metrics) SetInFlight(queue string, inFlight bool) {
	value := 0.0
	if inFlight {
		value = 1
	}
	m.inFlight.WithLabelValues(queue).Set(value)
}

// RecordPublish counts a publish attempt.
func (m *Metrics) RecordPublish(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.mu.Lock()
		m.published++
		m.mu.Unlock()
	}
	m.publishedTotal.WithLabelValues(topic, result).Inc()
}

// GetSnapshot returns a point-in-time snapshot of all queue metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Published:   m.published,
		Queues:      make(map[string]*QueueMetrics),
		CollectedAt: time.Now(),
	}

	for queue, metrics := range m.queueCounts {
		metricsCopy := *metrics
		snapshot.Queues[queue] = &metricsCopy
		snapshot.TotalDeleted += metrics.Deleted
		snapshot.TotalFailures += metrics.Malformed + metrics.HandlerFailures + metrics.DeleteFailures + metrics.ReceiveFailures
	}

	return snapshot
}

// GetQueueMetrics returns a copy of one queue's metrics, or nil.
func (m *Metrics) GetQueueMetrics(queue string) *QueueMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.queueCounts[queue]; ok {
		metricsCopy := *metrics
		return &metricsCopy
	}
	return nil
}

func (m *Metrics) getOrCreateQueueMetrics(queue string) *QueueMetrics {
	if metrics, ok := m.queueCounts[queue]; ok {
		return metrics
	}
	metrics := &QueueMetrics{}
	m.queueCounts[queue] = metrics
	return metrics
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queueCounts = make(map[string]*QueueMetrics)
	m.published = 0
	m.outcomesTotal.Reset()
	m.inFlight.Reset()
	m.handlerDuration.Reset()
	m.receiveCountHist.Reset()
	m.publishedTotal.Reset()
}
