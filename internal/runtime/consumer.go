package runtime

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/snsbridge/internal/runtime/config"
	"github.com/drblury/snsbridge/internal/runtime/envelope"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	transportpkg "github.com/drblury/snsbridge/internal/runtime/transport"
)

const tracerName = "github.com/drblury/snsbridge"

// State is the position of a ConsumerLoop in its receive cycle.
type State int32

const (
	StateIdle State = iota
	StateReceiving
	StateProcessing
	StateDeleting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateProcessing:
		return "processing"
	case StateDeleting:
		return "deleting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome reports how one cycle ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeDeleted
	OutcomeMalformed
	OutcomeHandlerFailed
	OutcomeDeleteFailed
	OutcomeReceiveFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeMalformed:
		return errspkg.KindName(errspkg.ErrMalformedEnvelope)
	case OutcomeHandlerFailed:
		return errspkg.KindName(errspkg.ErrHandlerFailure)
	case OutcomeDeleteFailed:
		return errspkg.KindName(errspkg.ErrDeleteFailure)
	case OutcomeReceiveFailed:
		return "receive_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ConsumerConfig describes the queue a loop drains.
type ConsumerConfig struct {
	QueueURL string
	// VisibilityTimeoutSeconds hides a received message from other receivers.
	// Zero defers to the queue attribute.
	VisibilityTimeoutSeconds int
	// WaitTimeSeconds is the long-poll window of each receive. Zero means
	// config.DefaultWaitTimeSeconds.
	WaitTimeSeconds int
	// BackoffInitial and BackoffMax bound the pause after a failed receive.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c ConsumerConfig) validate() error {
	var errs []error
	if c.QueueURL == "" {
		errs = append(errs, errspkg.ErrQueueRequired)
	}
	if c.VisibilityTimeoutSeconds < 0 || c.VisibilityTimeoutSeconds > configpkg.MaxVisibilityTimeoutSeconds {
		errs = append(errs, fmt.Errorf("visibility timeout must be between 0 and %d seconds", configpkg.MaxVisibilityTimeoutSeconds))
	}
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > configpkg.MaxWaitTimeSeconds {
		errs = append(errs, fmt.Errorf("wait time must be between 0 and %d seconds", configpkg.MaxWaitTimeSeconds))
	}
	return errspkg.NewConfigValidationError(errors.Join(errs...))
}

// ConsumerOption customises a ConsumerLoop.
type ConsumerOption func(*ConsumerLoop)

func WithConsumerLogger(logger loggingpkg.ServiceLogger) ConsumerOption {
	return func(l *ConsumerLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithConsumerMetrics(metrics *Metrics) ConsumerOption {
	return func(l *ConsumerLoop) {
		l.metrics = metrics
	}
}

// WithHandlerMiddleware wraps the handler. The first middleware runs outermost.
func WithHandlerMiddleware(middlewares ...HandlerMiddleware) ConsumerOption {
	return func(l *ConsumerLoop) {
		l.middlewares = append(l.middlewares, middlewares...)
	}
}

func WithConsumerTracer(tracer trace.Tracer) ConsumerOption {
	return func(l *ConsumerLoop) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithConsumerClock replaces the clock stamping Delivery.ReceivedAt.
func WithConsumerClock(now func() time.Time) ConsumerOption {
	return func(l *ConsumerLoop) {
		if now != nil {
			l.now = now
		}
	}
}

// ConsumerLoop drains one queue, one message at a time: receive, decode,
// handle, delete. A message is deleted only after its handler succeeded;
// every other path leaves it for redelivery once its visibility window
// lapses. No failure ends the loop; only cancellation does, and only between
// cycles.
type ConsumerLoop struct {
	backend     transportpkg.Backend
	conf        ConsumerConfig
	queue       string
	handler     Handler
	middlewares []HandlerMiddleware
	logger      loggingpkg.ServiceLogger
	metrics     *Metrics
	tracer      trace.Tracer
	now         func() time.Time
	latency     *latencyRing

	cycle    sync.Mutex
	mu       sync.RWMutex
	state    State
	inFlight *Delivery
}

// NewConsumerLoop validates conf and builds a loop. Handler panics are
// recovered into handler failures.
func NewConsumerLoop(backend transportpkg.Backend, conf ConsumerConfig, handler Handler, opts ...ConsumerOption) (*ConsumerLoop, error) {
	if backend == nil {
		return nil, errspkg.ErrBackendRequired
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	if conf.WaitTimeSeconds == 0 {
		conf.WaitTimeSeconds = configpkg.DefaultWaitTimeSeconds
	}
	if conf.BackoffInitial <= 0 {
		conf.BackoffInitial = configpkg.DefaultReceiveBackoffInitial
	}
	if conf.BackoffMax <= 0 {
		conf.BackoffMax = configpkg.DefaultReceiveBackoffMax
	}

	l := &ConsumerLoop{
		backend: backend,
		conf:    conf,
		queue:   queueLabel(conf.QueueURL),
		logger:  loggingpkg.NewNopServiceLogger(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		state:   StateIdle,
		latency: newLatencyRing(handlerLatencySamples),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(loggingpkg.LogFields{"queue": l.queue})

	middlewares := append([]HandlerMiddleware{Recoverer()}, l.middlewares...)
	l.handler = Chain(handler, middlewares...)
	return l, nil
}

// State returns the current cycle position.
func (l *ConsumerLoop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// InFlight returns the delivery being processed, or nil when none is held.
func (l *ConsumerLoop) InFlight() *Delivery {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inFlight
}

// Latency summarises the durations of the most recent handler invocations.
func (l *ConsumerLoop) Latency() LatencySummary {
	return l.latency.summary()
}

// QueueURL returns the queue this loop drains.
func (l *ConsumerLoop) QueueURL() string {
	return l.conf.QueueURL
}

// Run cycles until ctx is cancelled and returns ctx.Err(). A cycle already
// started always completes. Failed receives back off exponentially; any
// successful receive resets the backoff.
func (l *ConsumerLoop) Run(ctx context.Context) error {
	l.logger.Info("Consumer loop started", loggingpkg.LogFields{
		"visibility_timeout_seconds": l.conf.VisibilityTimeoutSeconds,
		"wait_time_seconds":          l.conf.WaitTimeSeconds,
	})

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = l.conf.BackoffInitial
	retry.MaxInterval = l.conf.BackoffMax
	retry.Reset()

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("Consumer loop stopped", loggingpkg.LogFields{"reason": err.Error()})
			return err
		}

		outcome, _ := l.RunOnce(ctx)
		if outcome != OutcomeReceiveFailed {
			retry.Reset()
			continue
		}

		wait := retry.NextBackOff()
		l.logger.Debug("Backing off after receive failure", loggingpkg.LogFields{"wait": wait.String()})
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// RunOnce performs a single receive/process/delete cycle. The returned error
// describes a soft failure and never needs handling for the loop to go on;
// only a cancelled ctx stops a cycle from starting.
func (l *ConsumerLoop) RunOnce(ctx context.Context) (Outcome, error) {
	l.cycle.Lock()
	defer l.cycle.Unlock()

	if err := ctx.Err(); err != nil {
		return OutcomeNone, err
	}
	work := context.WithoutCancel(ctx)

	l.setState(StateReceiving)
	messages, err := l.backend.Receive(work, transportpkg.ReceiveRequest{
		QueueURL:          l.conf.QueueURL,
		MaxMessages:       1,
		WaitTime:          time.Duration(l.conf.WaitTimeSeconds) * time.Second,
		VisibilityTimeout: time.Duration(l.conf.VisibilityTimeoutSeconds) * time.Second,
	})
	if err != nil {
		l.setState(StateIdle)
		err = withKind(errspkg.ErrBackendUnavailable, "receive", l.conf.QueueURL, err)
		l.finish(OutcomeReceiveFailed, nil, err)
		return OutcomeReceiveFailed, err
	}
	if len(messages) == 0 {
		l.setState(StateIdle)
		l.finish(OutcomeNone, nil, nil)
		return OutcomeNone, nil
	}

	delivery := newDelivery(l.conf.QueueURL, messages[0], l.now())
	l.hold(delivery)
	defer l.release()

	outcome, err := l.process(work, delivery)
	l.finish(outcome, delivery, err)
	return outcome, err
}

func (l *ConsumerLoop) process(ctx context.Context, d *Delivery) (Outcome, error) {
	ctx, span := l.tracer.Start(ctx, "snsbridge.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "aws_sqs"),
			attribute.String("messaging.destination.name", l.queue),
			attribute.String("messaging.message.id", d.MessageID),
			attribute.Int("messaging.receive_count", d.ReceiveCount),
		),
	)
	defer span.End()

	notification, err := envelope.DecodeNotification(d.Body)
	if err != nil {
		recordSpanError(span, err)
		return OutcomeMalformed, err
	}
	d.attach(notification)
	if correlationID := d.CorrelationID(); correlationID != "" {
		span.SetAttributes(attribute.String("messaging.correlation_id", correlationID))
	}
	l.logger.Trace("Delivery decoded", loggingpkg.LogFields{
		"message_id": d.MessageID,
		"topic_arn":  notification.TopicArn,
	})

	started := time.Now()
	err = l.handler(ctx, d)
	elapsed := time.Since(started)
	l.latency.observe(elapsed)
	if l.metrics != nil {
		l.metrics.ObserveHandler(l.queue, elapsed)
	}
	if err != nil {
		err = withKind(errspkg.ErrHandlerFailure, "handle", d.MessageID, err)
		recordSpanError(span, err)
		return OutcomeHandlerFailed, err
	}

	l.setState(StateDeleting)
	if err := l.backend.Delete(ctx, d.QueueURL, d.ReceiptHandle); err != nil {
		err = withKind(errspkg.ErrDeleteFailure, "delete", d.MessageID, err)
		recordSpanError(span, err)
		return OutcomeDeleteFailed, err
	}

	span.SetStatus(codes.Ok, "")
	return OutcomeDeleted, nil
}

func (l *ConsumerLoop) finish(outcome Outcome, d *Delivery, err error) {
	if l.metrics != nil {
		l.metrics.RecordOutcome(l.queue, outcome)
	}

	fields := loggingpkg.LogFields{"outcome": outcome.String()}
	if d != nil {
		fields["message_id"] = d.MessageID
		fields["receive_count"] = d.ReceiveCount
		if correlationID := d.CorrelationID(); correlationID != "" {
			fields["correlation_id"] = correlationID
		}
	}

	switch outcome {
	case OutcomeNone:
		l.logger.Trace("No messages received", fields)
	case OutcomeDeleted:
		l.logger.Debug("Delivery processed and deleted", fields)
	default:
		l.logger.Error("Consumer cycle failed", err, fields)
	}
}

func (l *ConsumerLoop) setState(state State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
}

func (l *ConsumerLoop) hold(d *Delivery) {
	l.mu.Lock()
	l.state = StateProcessing
	l.inFlight = d
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetInFlight(l.queue, true)
		l.metrics.RecordDelivery(l.queue, d.ReceiveCount)
	}
	l.logger.Debug("Delivery received", loggingpkg.LogFields{
		"message_id":    d.MessageID,
		"receive_count": d.ReceiveCount,
	})
}

func (l *ConsumerLoop) release() {
	l.mu.Lock()
	l.state = StateIdle
	l.inFlight = nil
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetInFlight(l.queue, false)
	}
}

// withKind tags err with kind unless it already carries it.
func withKind(kind error, op, resource string, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return errspkg.New(kind, op, resource, err)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, errspkg.KindName(errspkg.Classify(err)))
}

// queueLabel reduces a queue URL to its name for logs and metric labels.
func queueLabel(queueURL string) string {
	if name := path.Base(queueURL); name != "." && name != "/" {
		return name
	}
	return queueURL
}
