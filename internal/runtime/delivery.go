package runtime

import (
	"context"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/snsbridge/internal/runtime/envelope"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
	transportpkg "github.com/drblury/snsbridge/internal/runtime/transport"
)

// Delivery is the message a ConsumerLoop holds between receive and delete.
type Delivery struct {
	QueueURL      string
	MessageID     string
	ReceiptHandle string
	// Body is the raw queue body, still wrapped.
	Body string
	// Notification and Payload are set once Body decoded.
	Notification envelope.Notification
	Payload      envelope.Payload
	// Metadata merges notification attributes with queue message attributes;
	// the latter win.
	Metadata     metadatapkg.Metadata
	Attributes   map[string]string
	ReceiveCount int
	ReceivedAt   time.Time
}

func newDelivery(queueURL string, msg transportpkg.Message, receivedAt time.Time) *Delivery {
	d := &Delivery{
		QueueURL:      queueURL,
		MessageID:     msg.MessageID,
		ReceiptHandle: msg.ReceiptHandle,
		Body:          msg.Body,
		Attributes:    msg.Attributes,
		Metadata:      msg.MessageAttributes.Clone(),
		ReceivedAt:    receivedAt,
	}
	if raw, ok := msg.Attributes[transportpkg.AttributeApproximateReceiveCount]; ok {
		d.ReceiveCount, _ = strconv.Atoi(raw)
	}
	return d
}

func (d *Delivery) attach(n envelope.Notification) {
	d.Notification = n
	d.Payload = n.Payload()
	d.Metadata = n.Attributes.Clone().WithAll(d.Metadata)
}

// Unmarshal decodes the payload into v.
func (d *Delivery) Unmarshal(v any) error {
	return d.Payload.Unmarshal(v)
}

// UnmarshalProto decodes the payload into a protobuf message.
func (d *Delivery) UnmarshalProto(m proto.Message) error {
	return d.Payload.UnmarshalProto(m)
}

func (d *Delivery) CorrelationID() string {
	return d.Metadata.CorrelationID()
}

// Handler processes one decoded delivery. A nil return acknowledges it.
type Handler func(ctx context.Context, d *Delivery) error

// HandlerMiddleware wraps a Handler.
type HandlerMiddleware func(Handler) Handler

// Chain applies middlewares so that the first one listed runs outermost.
func Chain(h Handler, middlewares ...HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		h = middlewares[i](h)
	}
	return h
}
