package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/snsbridge/internal/runtime/envelope"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/snsbridge/internal/runtime/handlers"
	idspkg "github.com/drblury/snsbridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
	transportpkg "github.com/drblury/snsbridge/internal/runtime/transport"
)

// Producer emits events onto a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, event any, metadata metadatapkg.Metadata) (string, error)
	PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) (string, error)
}

// PublisherOption customises a Publisher.
type PublisherOption func(*Publisher)

func WithPublisherLogger(logger loggingpkg.ServiceLogger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPublisherMetrics(metrics *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = metrics
	}
}

// WithTopicResolver lets Publish accept bare topic names.
func WithTopicResolver(resolver transportpkg.TopicArnResolver) PublisherOption {
	return func(p *Publisher) {
		p.resolver = resolver
	}
}

// Publisher encodes events and sends them to a topic in a single attempt.
type Publisher struct {
	backend  transportpkg.Backend
	resolver transportpkg.TopicArnResolver
	logger   loggingpkg.ServiceLogger
	metrics  *Metrics
	tracer   trace.Tracer
}

func NewPublisher(backend transportpkg.Backend, opts ...PublisherOption) (*Publisher, error) {
	if backend == nil {
		return nil, errspkg.ErrBackendRequired
	}
	p := &Publisher{
		backend: backend,
		logger:  loggingpkg.NewNopServiceLogger(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish JSON-encodes event and sends it to topic, returning the backend
// delivery identifier. Protobuf messages are encoded with protojson. A
// correlation_id attribute is added when metadata lacks one.
func (p *Publisher) Publish(ctx context.Context, topic string, event any, metadata metadatapkg.Metadata) (string, error) {
	if event == nil {
		return "", errspkg.ErrEventRequired
	}
	if msg, ok := event.(proto.Message); ok {
		return p.PublishProto(ctx, topic, msg, metadata)
	}
	if topic == "" {
		return "", errspkg.ErrTopicRequired
	}

	text, err := envelope.Encode(event)
	if err != nil {
		return "", err
	}
	return p.send(ctx, topic, text, fmt.Sprintf("%T", event), metadata)
}

// PublishProto emits a protobuf event as protojson.
func (p *Publisher) PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) (string, error) {
	if topic == "" {
		return "", errspkg.ErrTopicRequired
	}
	if event == nil || isNilEvent(event) {
		return "", errspkg.ErrEventRequired
	}

	text, err := envelope.EncodeProto(event)
	if err != nil {
		return "", err
	}
	return p.send(ctx, topic, text, fmt.Sprintf("%T", event), metadata)
}

func (p *Publisher) send(ctx context.Context, topic, text, schema string, metadata metadatapkg.Metadata) (string, error) {
	topicArn, err := p.resolveTopic(ctx, topic)
	if err != nil {
		return "", err
	}
	topicName := topicLabel(topicArn)

	attrs := metadata.Clone()
	if attrs.CorrelationID() == "" {
		attrs[metadatapkg.KeyCorrelationID] = idspkg.CreateULID()
	}
	if _, ok := attrs[handlerpkg.MetadataKeyEventSchema]; !ok {
		attrs[handlerpkg.MetadataKeyEventSchema] = schema
	}

	ctx, span := p.tracer.Start(ctx, "snsbridge.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "aws_sns"),
			attribute.String("messaging.destination.name", topicName),
			attribute.String("messaging.correlation_id", attrs.CorrelationID()),
		),
	)
	defer span.End()

	messageID, err := p.backend.Publish(ctx, transportpkg.PublishRequest{
		TopicArn:   topicArn,
		Message:    text,
		Attributes: attrs,
	})
	if err == nil && messageID == "" {
		err = errspkg.New(errspkg.ErrPublishRejected, "publish", topicArn, fmt.Errorf("backend returned no message id"))
	}
	if p.metrics != nil {
		p.metrics.RecordPublish(topicName, err)
	}
	if err != nil {
		if errspkg.Classify(err) == nil {
			err = errspkg.New(errspkg.ErrBackendUnavailable, "publish", topicArn, err)
		}
		recordSpanError(span, err)
		p.logger.Error("Publish failed", err, loggingpkg.LogFields{
			"topic_arn":      topicArn,
			"correlation_id": attrs.CorrelationID(),
		})
		return "", err
	}

	span.SetAttributes(attribute.String("messaging.message.id", messageID))
	p.logger.Debug("Event published", loggingpkg.LogFields{
		"topic_arn":      topicArn,
		"message_id":     messageID,
		"correlation_id": attrs.CorrelationID(),
		"schema":         attrs[handlerpkg.MetadataKeyEventSchema],
	})
	return messageID, nil
}

func (p *Publisher) resolveTopic(ctx context.Context, topic string) (string, error) {
	if strings.HasPrefix(topic, "arn:") || p.resolver == nil {
		return topic, nil
	}
	topicArn, err := p.resolver.ResolveTopicArn(ctx, topic)
	if err != nil {
		return "", withKind(errspkg.ErrPublishRejected, "resolve topic", topic, err)
	}
	return topicArn, nil
}

// topicLabel reduces a topic ARN to its name for logs and metric labels.
func topicLabel(topicArn string) string {
	if name, err := sns.ExtractTopicNameFromTopicArn(sns.TopicArn(topicArn)); err == nil {
		return string(name)
	}
	return topicArn
}

func isNilEvent(event proto.Message) bool {
	return !event.ProtoReflect().IsValid()
}
