// Package transport holds the messaging backends the bridge runs on: AWS
// SNS/SQS and an in-process emulation of the same semantics.
package transport

import (
	"context"
	"time"

	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
)

// SubscriptionProtocol is the SNS protocol used to deliver into a queue.
const SubscriptionProtocol = "sqs"

// Message is one delivery attempt returned by a receive call.
type Message struct {
	MessageID string
	// ReceiptHandle identifies this delivery attempt only. It is the sole
	// input to Delete.
	ReceiptHandle string
	Body          string
	// Attributes holds backend system attributes (ApproximateReceiveCount,
	// SentTimestamp, ...).
	Attributes map[string]string
	// MessageAttributes holds user attributes set on the queue message itself.
	MessageAttributes metadatapkg.Metadata
}

// ReceiveRequest describes a long-poll receive. A zero VisibilityTimeout
// defers to the queue attribute.
type ReceiveRequest struct {
	QueueURL          string
	MaxMessages       int32
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// PublishRequest describes a topic send.
type PublishRequest struct {
	TopicArn   string
	Message    string
	Subject    string
	Attributes metadatapkg.Metadata
}

// QueueAttributes are the queue settings applied at creation.
type QueueAttributes struct {
	VisibilityTimeoutSeconds int
	RetentionSeconds         int
	DelaySeconds             int
}

// Backend is the data-plane contract: receive, acknowledge, publish.
type Backend interface {
	Receive(ctx context.Context, req ReceiveRequest) ([]Message, error)
	// Delete acknowledges a delivery. Deleting an already deleted message is
	// not an error.
	Delete(ctx context.Context, queueURL, receiptHandle string) error
	// Publish sends to a topic and returns the backend delivery identifier.
	Publish(ctx context.Context, req PublishRequest) (string, error)
}

// Provisioner is the control-plane contract. Every Ensure call is idempotent.
type Provisioner interface {
	EnsureTopic(ctx context.Context, name string) (string, error)
	EnsureQueue(ctx context.Context, name string, attrs QueueAttributes) (string, error)
	// EnsureSubscription links a topic to a queue identified by its ARN, not
	// its URL.
	EnsureSubscription(ctx context.Context, topicArn, queueArn string) (string, error)
	QueueArn(ctx context.Context, queueURL string) (string, error)
	ListTopics(ctx context.Context) ([]string, error)
	ListQueues(ctx context.Context) ([]string, error)
}

// QueueSender writes a raw body straight into a queue, bypassing any topic.
type QueueSender interface {
	SendMessage(ctx context.Context, queueURL, body string) (string, error)
}

// TopicArnResolver maps a bare topic name to its ARN.
type TopicArnResolver interface {
	ResolveTopicArn(ctx context.Context, topic string) (string, error)
}

// Transport bundles both planes of one backend.
type Transport interface {
	Backend
	Provisioner
	QueueSender
	TopicArnResolver
	Close() error
}
