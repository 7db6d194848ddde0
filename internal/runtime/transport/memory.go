package transport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/snsbridge/internal/runtime/config"
	"github.com/drblury/snsbridge/internal/runtime/envelope"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	idspkg "github.com/drblury/snsbridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
)

const (
	defaultMemoryRegion       = "us-east-1"
	defaultMemoryPollInterval = 50 * time.Millisecond
	defaultMemoryRetention    = 4 * 24 * time.Hour

	maxReceiveMessages = 10
	receiptSeparator   = "~"
)

// System attribute names reported on received messages.
const (
	AttributeApproximateReceiveCount          = "ApproximateReceiveCount"
	AttributeSentTimestamp                    = "SentTimestamp"
	AttributeApproximateFirstReceiveTimestamp = "ApproximateFirstReceiveTimestamp"
)

var (
	topicNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)
	queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,80}$`)
)

// MemoryOptions configures NewMemoryTransport.
type MemoryOptions struct {
	Region    string
	AccountID string
	Logger    loggingpkg.ServiceLogger
	// Now drives visibility, delay and retention. Defaults to time.Now.
	Now func() time.Time
	// PollInterval bounds how long a long-poll waits before re-checking for
	// messages whose visibility window expired.
	PollInterval time.Duration
}

// MemoryTransport emulates SNS topics fanning out into SQS queues inside the
// process. Topics are Watermill GoChannel topics; each subscription drains
// its channel into a queue with SQS visibility semantics.
type MemoryTransport struct {
	region    string
	accountID string
	logger    loggingpkg.ServiceLogger
	now       func() time.Time
	poll      time.Duration

	pubSub *gochannel.GoChannel
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu         sync.Mutex
	mu            sync.Mutex
	closed        bool
	topics        map[string]string
	queues        map[string]*memoryQueue
	queuesByArn   map[string]*memoryQueue
	subscriptions map[string]string
	notify        chan struct{}
}

type memoryQueue struct {
	name      string
	url       string
	arn       string
	attrs     QueueAttributes
	retention time.Duration
	messages  []*memoryMessage
}

type memoryMessage struct {
	id           string
	body         string
	sentAt       time.Time
	visibleAt    time.Time
	firstReceive time.Time
	receiveCount int
	receipt      string
}

// NewMemoryTransport builds an empty in-process backend.
func NewMemoryTransport(opts MemoryOptions) (*MemoryTransport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	region := opts.Region
	if region == "" {
		region = defaultMemoryRegion
	}
	accountID := strings.Trim(opts.AccountID, "\"' ")
	if accountID == "" {
		accountID = localstackAccountID
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultMemoryPollInterval
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, loggingpkg.NewWatermillAdapter(logger))

	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryTransport{
		region:        region,
		accountID:     accountID,
		logger:        logger,
		now:           now,
		poll:          poll,
		pubSub:        pubSub,
		ctx:           ctx,
		cancel:        cancel,
		topics:        make(map[string]string),
		queues:        make(map[string]*memoryQueue),
		queuesByArn:   make(map[string]*memoryQueue),
		subscriptions: make(map[string]string),
		notify:        make(chan struct{}),
	}, nil
}

func (t *MemoryTransport) EnsureTopic(ctx context.Context, name string) (string, error) {
	if !topicNamePattern.MatchString(name) {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create topic", name, errors.New("invalid topic name"))
	}
	topicArn, err := t.ResolveTopicArn(ctx, name)
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create topic", name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create topic", name, errTransportClosed)
	}
	if _, ok := t.topics[topicArn]; !ok {
		t.topics[topicArn] = name
		t.logger.Debug("Created topic", loggingpkg.LogFields{"topic_arn": topicArn})
	}
	return topicArn, nil
}

func (t *MemoryTransport) EnsureQueue(_ context.Context, name string, attrs QueueAttributes) (string, error) {
	if !queueNamePattern.MatchString(name) {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create queue", name, errors.New("invalid queue name"))
	}
	if err := validateQueueAttributes(attrs); err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create queue", name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create queue", name, errTransportClosed)
	}

	queueURL := fmt.Sprintf("memory://sqs.%s/%s/%s", t.region, t.accountID, name)
	if existing, ok := t.queues[queueURL]; ok {
		if existing.attrs != attrs {
			t.logger.Info("Queue exists with different attributes; reusing it", loggingpkg.LogFields{"queue": name})
		}
		return queueURL, nil
	}

	retention := time.Duration(attrs.RetentionSeconds) * time.Second
	if retention == 0 {
		retention = defaultMemoryRetention
	}
	q := &memoryQueue{
		name:      name,
		url:       queueURL,
		arn:       fmt.Sprintf("arn:aws:sqs:%s:%s:%s", t.region, t.accountID, name),
		attrs:     attrs,
		retention: retention,
	}
	t.queues[queueURL] = q
	t.queuesByArn[q.arn] = q
	t.logger.Debug("Created queue", loggingpkg.LogFields{"queue_url": queueURL})
	return queueURL, nil
}

func (t *MemoryTransport) QueueArn(_ context.Context, queueURL string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[queueURL]
	if !ok {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "get queue arn", queueURL, errQueueNotFound)
	}
	return q.arn, nil
}

func (t *MemoryTransport) EnsureSubscription(_ context.Context, topicArn, queueArn string) (string, error) {
	// subMu is held across the GoChannel subscribe; mu must not be, since a
	// blocked publish waits on drain goroutines that need mu.
	t.subMu.Lock()
	defer t.subMu.Unlock()

	key := topicArn + "|" + queueArn
	t.mu.Lock()
	closed := t.closed
	_, topicKnown := t.topics[topicArn]
	q, queueKnown := t.queuesByArn[queueArn]
	subscriptionArn, subscribed := t.subscriptions[key]
	t.mu.Unlock()

	switch {
	case closed:
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "subscribe", topicArn, errTransportClosed)
	case !topicKnown:
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "subscribe", topicArn, errTopicNotFound)
	case !queueKnown:
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "subscribe", queueArn, errQueueNotFound)
	case subscribed:
		return subscriptionArn, nil
	}

	deliveries, err := t.pubSub.Subscribe(t.ctx, topicArn)
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "subscribe", topicArn, err)
	}
	subscriptionArn = topicArn + ":" + idspkg.CreateULID()

	t.mu.Lock()
	t.subscriptions[key] = subscriptionArn
	t.mu.Unlock()

	t.wg.Add(1)
	go t.drain(q, deliveries)

	t.logger.Info("Subscribed queue to topic", loggingpkg.LogFields{
		"topic_arn":        topicArn,
		"queue_arn":        queueArn,
		"subscription_arn": subscriptionArn,
	})
	return subscriptionArn, nil
}

func (t *MemoryTransport) drain(q *memoryQueue, deliveries <-chan *message.Message) {
	defer t.wg.Done()
	for msg := range deliveries {
		t.enqueue(q, string(msg.Payload))
		t.logger.Trace("Fanned out notification", loggingpkg.LogFields{
			"queue":          q.name,
			"message_id":     msg.UUID,
			"correlation_id": metadatapkg.FromWatermill(msg.Metadata).CorrelationID(),
		})
		msg.Ack()
	}
}

func (t *MemoryTransport) enqueue(q *memoryQueue, body string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	id := idspkg.CreateULIDAt(now)
	q.messages = append(q.messages, &memoryMessage{
		id:        id,
		body:      body,
		sentAt:    now,
		visibleAt: now.Add(time.Duration(q.attrs.DelaySeconds) * time.Second),
	})
	t.wakeLocked()
	return id
}

// Publish wraps the message in a notification and fans it out to every
// subscribed queue before returning.
func (t *MemoryTransport) Publish(_ context.Context, req PublishRequest) (string, error) {
	t.mu.Lock()
	closed := t.closed
	_, known := t.topics[req.TopicArn]
	t.mu.Unlock()

	if closed {
		return "", errspkg.New(errspkg.ErrBackendUnavailable, "publish", req.TopicArn, errTransportClosed)
	}
	if !known {
		return "", errspkg.New(errspkg.ErrPublishRejected, "publish", req.TopicArn, errTopicNotFound)
	}

	messageID := idspkg.CreateULID()
	body, err := envelope.Wrap(envelope.Notification{
		MessageID:  messageID,
		TopicArn:   req.TopicArn,
		Subject:    req.Subject,
		Message:    req.Message,
		Timestamp:  t.now(),
		Attributes: req.Attributes,
	})
	if err != nil {
		return "", errspkg.New(errspkg.ErrPublishRejected, "publish", req.TopicArn, err)
	}

	msg := message.NewMessage(messageID, []byte(body))
	msg.Metadata = metadatapkg.ToWatermill(req.Attributes)
	if err := t.pubSub.Publish(req.TopicArn, msg); err != nil {
		return "", errspkg.New(errspkg.ErrBackendUnavailable, "publish", req.TopicArn, err)
	}
	return messageID, nil
}

// SendMessage enqueues body as is, the way a producer writing directly to
// the queue would.
func (t *MemoryTransport) SendMessage(_ context.Context, queueURL, body string) (string, error) {
	t.mu.Lock()
	closed := t.closed
	q, ok := t.queues[queueURL]
	t.mu.Unlock()

	if closed {
		return "", errspkg.New(errspkg.ErrBackendUnavailable, "send message", queueURL, errTransportClosed)
	}
	if !ok {
		return "", errspkg.New(errspkg.ErrBackendUnavailable, "send message", queueURL, errQueueNotFound)
	}
	return t.enqueue(q, body), nil
}

// Receive long-polls for up to WaitTime. Each returned message becomes
// invisible for the request or queue visibility timeout and carries a fresh
// receipt handle.
func (t *MemoryTransport) Receive(ctx context.Context, req ReceiveRequest) ([]Message, error) {
	maxMessages := int(req.MaxMessages)
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if maxMessages > maxReceiveMessages {
		maxMessages = maxReceiveMessages
	}

	var deadline <-chan time.Time
	if req.WaitTime > 0 {
		timer := time.NewTimer(req.WaitTime)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		messages, notify, err := t.take(req, maxMessages)
		if err != nil || len(messages) > 0 || deadline == nil {
			return messages, err
		}

		poll := time.NewTimer(t.poll)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, nil
		case <-deadline:
			poll.Stop()
			return t.takeOnce(req, maxMessages)
		case <-notify:
		case <-poll.C:
		}
		poll.Stop()
	}
}

func (t *MemoryTransport) takeOnce(req ReceiveRequest, maxMessages int) ([]Message, error) {
	messages, _, err := t.take(req, maxMessages)
	return messages, err
}

func (t *MemoryTransport) take(req ReceiveRequest, maxMessages int) ([]Message, <-chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil, errspkg.New(errspkg.ErrBackendUnavailable, "receive", req.QueueURL, errTransportClosed)
	}
	q, ok := t.queues[req.QueueURL]
	if !ok {
		return nil, nil, errspkg.New(errspkg.ErrBackendUnavailable, "receive", req.QueueURL, errQueueNotFound)
	}

	now := t.now()
	q.purgeExpired(now)

	visibility := req.VisibilityTimeout
	if visibility <= 0 {
		visibility = time.Duration(q.attrs.VisibilityTimeoutSeconds) * time.Second
	}

	var out []Message
	for _, m := range q.messages {
		if len(out) == maxMessages {
			break
		}
		if m.visibleAt.After(now) {
			continue
		}
		m.receiveCount++
		if m.firstReceive.IsZero() {
			m.firstReceive = now
		}
		m.receipt = m.id + receiptSeparator + idspkg.CreateULIDAt(now)
		m.visibleAt = now.Add(visibility)
		out = append(out, Message{
			MessageID:     m.id,
			ReceiptHandle: m.receipt,
			Body:          m.body,
			Attributes: map[string]string{
				AttributeApproximateReceiveCount:          strconv.Itoa(m.receiveCount),
				AttributeSentTimestamp:                    strconv.FormatInt(m.sentAt.UnixMilli(), 10),
				AttributeApproximateFirstReceiveTimestamp: strconv.FormatInt(m.firstReceive.UnixMilli(), 10),
			},
		})
	}
	return out, t.notify, nil
}

// Delete removes the message whose current receipt handle matches. Handles
// of earlier attempts and of messages already gone succeed without effect.
func (t *MemoryTransport) Delete(_ context.Context, queueURL, receiptHandle string) error {
	messageID, _, ok := strings.Cut(receiptHandle, receiptSeparator)
	if !ok || messageID == "" {
		return errspkg.New(errspkg.ErrDeleteFailure, "delete", queueURL, errspkg.ErrReceiptHandleInvalid)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errspkg.New(errspkg.ErrBackendUnavailable, "delete", queueURL, errTransportClosed)
	}
	q, ok := t.queues[queueURL]
	if !ok {
		return errspkg.New(errspkg.ErrDeleteFailure, "delete", queueURL, errQueueNotFound)
	}

	q.messages = slices.DeleteFunc(q.messages, func(m *memoryMessage) bool {
		return m.id == messageID && m.receipt == receiptHandle
	})
	return nil
}

func (t *MemoryTransport) ListTopics(context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	topics := make([]string, 0, len(t.topics))
	for topicArn := range t.topics {
		topics = append(topics, topicArn)
	}
	slices.Sort(topics)
	return topics, nil
}

func (t *MemoryTransport) ListQueues(context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	queues := make([]string, 0, len(t.queues))
	for queueURL := range t.queues {
		queues = append(queues, queueURL)
	}
	slices.Sort(queues)
	return queues, nil
}

// ResolveTopicArn turns a bare topic name into its ARN. ARNs are returned
// unchanged.
func (t *MemoryTransport) ResolveTopicArn(ctx context.Context, topic string) (string, error) {
	if strings.HasPrefix(topic, "arn:") {
		return topic, nil
	}
	resolver, err := createTopicResolver(t.accountID, t.region, t.logger)
	if err != nil {
		return "", err
	}
	topicArn, err := resolver.ResolveTopic(ctx, topic)
	if err != nil {
		return "", fmt.Errorf("resolve topic %q: %w", topic, err)
	}
	return string(topicArn), nil
}

// Depth reports how many messages a queue holds, visible or not.
func (t *MemoryTransport) Depth(queueURL string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[queueURL]
	if !ok {
		return 0
	}
	q.purgeExpired(t.now())
	return len(q.messages)
}

// Close stops every subscription. Calls after Close fail with
// ErrBackendUnavailable.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.wakeLocked()
	t.mu.Unlock()

	t.cancel()
	err := t.pubSub.Close()
	t.wg.Wait()
	return err
}

func (t *MemoryTransport) wakeLocked() {
	close(t.notify)
	t.notify = make(chan struct{})
}

func (q *memoryQueue) purgeExpired(now time.Time) {
	q.messages = slices.DeleteFunc(q.messages, func(m *memoryMessage) bool {
		return now.Sub(m.sentAt) > q.retention
	})
}

var (
	errTransportClosed = errors.New("transport closed")
	errTopicNotFound   = errors.New("topic does not exist")
	errQueueNotFound   = errors.New("queue does not exist")
)

func validateQueueAttributes(attrs QueueAttributes) error {
	var errs []error
	if attrs.VisibilityTimeoutSeconds < 0 || attrs.VisibilityTimeoutSeconds > config.MaxVisibilityTimeoutSeconds {
		errs = append(errs, fmt.Errorf("visibility timeout %d outside 0..%d", attrs.VisibilityTimeoutSeconds, config.MaxVisibilityTimeoutSeconds))
	}
	if attrs.RetentionSeconds != 0 && (attrs.RetentionSeconds < config.MinRetentionSeconds || attrs.RetentionSeconds > config.MaxRetentionSeconds) {
		errs = append(errs, fmt.Errorf("retention %d outside %d..%d", attrs.RetentionSeconds, config.MinRetentionSeconds, config.MaxRetentionSeconds))
	}
	if attrs.DelaySeconds < 0 || attrs.DelaySeconds > config.MaxDelaySeconds {
		errs = append(errs, fmt.Errorf("delay %d outside 0..%d", attrs.DelaySeconds, config.MaxDelaySeconds))
	}
	return errors.Join(errs...)
}
