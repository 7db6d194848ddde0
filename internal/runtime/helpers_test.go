package runtime

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/snsbridge/internal/runtime/envelope"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
	transportpkg "github.com/drblury/snsbridge/internal/runtime/transport"
)

const testQueueURL = "memory://sqs.us-east-1/000000000000/orders"

type receiveResult struct {
	messages []transportpkg.Message
	err      error
}

// scriptedBackend replays queued receive results and records deletes.
type scriptedBackend struct {
	mu         sync.Mutex
	receives   []receiveResult
	requests   []transportpkg.ReceiveRequest
	deleted    []string
	deleteErr  error
	published  []transportpkg.PublishRequest
	publishID  string
	publishErr error
	// onReceive runs inside Receive before a result is returned.
	onReceive func(ctx context.Context)
}

func (b *scriptedBackend) push(messages ...transportpkg.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receives = append(b.receives, receiveResult{messages: messages})
}

func (b *scriptedBackend) pushErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receives = append(b.receives, receiveResult{err: err})
}

func (b *scriptedBackend) Receive(ctx context.Context, req transportpkg.ReceiveRequest) ([]transportpkg.Message, error) {
	if b.onReceive != nil {
		b.onReceive(ctx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if len(b.receives) == 0 {
		return nil, nil
	}
	next := b.receives[0]
	b.receives = b.receives[1:]
	return next.messages, next.err
}

func (b *scriptedBackend) Delete(_ context.Context, _ string, receiptHandle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.deleted = append(b.deleted, receiptHandle)
	return nil
}

func (b *scriptedBackend) Publish(_ context.Context, req transportpkg.PublishRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return "", b.publishErr
	}
	b.published = append(b.published, req)
	if b.publishID == "" {
		return "msg-" + strconv.Itoa(len(b.published)), nil
	}
	return b.publishID, nil
}

func (b *scriptedBackend) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

func (b *scriptedBackend) Requests() []transportpkg.ReceiveRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transportpkg.ReceiveRequest(nil), b.requests...)
}

func (b *scriptedBackend) Published() []transportpkg.PublishRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transportpkg.PublishRequest(nil), b.published...)
}

var errBackendDown = errors.New("connection refused")

// notificationMessage wraps payload the way a topic subscription would.
func notificationMessage(t *testing.T, id, payload string, attrs metadatapkg.Metadata) transportpkg.Message {
	t.Helper()
	body, err := envelope.Wrap(envelope.Notification{
		MessageID:  id,
		TopicArn:   "arn:aws:sns:us-east-1:000000000000:orders",
		Message:    payload,
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Attributes: attrs,
	})
	require.NoError(t, err)
	return transportpkg.Message{
		MessageID:     id,
		ReceiptHandle: id + "~receipt",
		Body:          body,
		Attributes:    map[string]string{transportpkg.AttributeApproximateReceiveCount: "1"},
	}
}

func newTestLogger() (loggingpkg.ServiceLogger, *entryRecorder) {
	entry := newFakeEntry()
	return loggingpkg.NewEntryServiceLogger(entry), entry.recorder
}

type memoryEnv struct {
	transport *transportpkg.MemoryTransport
	topicArn  string
	queueURL  string
}

// newMemoryEnv provisions one topic subscribed by one queue.
func newMemoryEnv(t *testing.T, attrs transportpkg.QueueAttributes) memoryEnv {
	t.Helper()
	tr, err := transportpkg.NewMemoryTransport(transportpkg.MemoryOptions{PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	binding, err := Provision(context.Background(), tr, ProvisionRequest{
		TopicName:       "prices",
		QueueName:       "prices-consumer",
		QueueAttributes: attrs,
	})
	require.NoError(t, err)
	return memoryEnv{transport: tr, topicArn: binding.TopicArn, queueURL: binding.QueueURL}
}
