// Package envelope converts between application events and the two-layer
// bodies that arrive on an SNS-subscribed SQS queue.
//
// The publisher writes the bare event JSON to the topic. The topic-to-queue
// fan-out wraps it in an SNS notification whose Message field holds that JSON
// as a string. Decode reverses both layers.
package envelope

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	"github.com/drblury/snsbridge/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
)

// NotificationType is the Type SNS stamps on fan-out deliveries.
const NotificationType = "Notification"

const stringAttributeType = "String"

var (
	protoMarshalOptions   = protojson.MarshalOptions{EmitUnpopulated: true}
	protoUnmarshalOptions = protojson.UnmarshalOptions{DiscardUnknown: true}
)

// Payload is the inner application event as raw JSON.
type Payload []byte

// Unmarshal decodes the payload into v.
func (p Payload) Unmarshal(v any) error {
	if err := jsoncodec.Unmarshal(p, v); err != nil {
		return errspkg.New(errspkg.ErrMalformedEnvelope, "unmarshal payload", fmt.Sprintf("%T", v), err)
	}
	return nil
}

// UnmarshalProto decodes the payload into a protobuf message using protojson.
func (p Payload) UnmarshalProto(m proto.Message) error {
	if err := protoUnmarshalOptions.Unmarshal(p, m); err != nil {
		return errspkg.New(errspkg.ErrMalformedEnvelope, "unmarshal proto payload", fmt.Sprintf("%T", m), err)
	}
	return nil
}

// MarshalJSON lets a decoded payload be published again unchanged.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p Payload) String() string {
	return string(p)
}

// Notification is the outer transport wrapper of a fan-out delivery.
type Notification struct {
	Type       string
	MessageID  string
	TopicArn   string
	Subject    string
	Message    string
	Timestamp  time.Time
	Attributes metadatapkg.Metadata
}

// Payload returns the inner event carried by the notification.
func (n Notification) Payload() Payload {
	return Payload(n.Message)
}

type attributeWire struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

type notificationWire struct {
	Type              string                   `json:"Type,omitempty"`
	MessageID         string                   `json:"MessageId,omitempty"`
	TopicArn          string                   `json:"TopicArn,omitempty"`
	Subject           string                   `json:"Subject,omitempty"`
	Message           *string                  `json:"Message"`
	Timestamp         string                   `json:"Timestamp,omitempty"`
	MessageAttributes map[string]attributeWire `json:"MessageAttributes,omitempty"`
}

// Decode unwraps an outer queue body and returns the inner application event.
// Every failure wraps ErrMalformedEnvelope.
func Decode(outerBody string) (Payload, error) {
	n, err := DecodeNotification(outerBody)
	if err != nil {
		return nil, err
	}
	return n.Payload(), nil
}

// DecodeNotification is Decode but keeps the wrapper metadata.
func DecodeNotification(outerBody string) (Notification, error) {
	var wire notificationWire
	if err := jsoncodec.UnmarshalString(outerBody, &wire); err != nil {
		return Notification{}, malformed("parse outer body", err)
	}
	if wire.Message == nil {
		return Notification{}, malformed("read Message field", fmt.Errorf("field is absent"))
	}
	if !jsoncodec.Valid([]byte(*wire.Message)) {
		return Notification{}, malformed("parse inner message", fmt.Errorf("Message is not valid JSON"))
	}

	n := Notification{
		Type:      wire.Type,
		MessageID: wire.MessageID,
		TopicArn:  wire.TopicArn,
		Subject:   wire.Subject,
		Message:   *wire.Message,
	}
	if wire.Timestamp != "" {
		// SNS timestamps are informational; an unexpected format is not a reason
		// to reject the event.
		if ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp); err == nil {
			n.Timestamp = ts
		}
	}
	if len(wire.MessageAttributes) > 0 {
		n.Attributes = make(metadatapkg.Metadata, len(wire.MessageAttributes))
		for k, v := range wire.MessageAttributes {
			n.Attributes[k] = v.Value
		}
	}
	return n, nil
}

// Encode serializes an application event to the JSON text the publisher
// sends. Failures wrap ErrUnserializableEvent.
func Encode(event any) (string, error) {
	text, err := jsoncodec.MarshalString(event)
	if err != nil {
		return "", errspkg.New(errspkg.ErrUnserializableEvent, "encode", fmt.Sprintf("%T", event), err)
	}
	return text, nil
}

// EncodeProto serializes a protobuf event with protojson.
func EncodeProto(event proto.Message) (string, error) {
	if event == nil {
		return "", errspkg.ErrEventRequired
	}
	data, err := protoMarshalOptions.Marshal(event)
	if err != nil {
		return "", errspkg.New(errspkg.ErrUnserializableEvent, "encode proto", fmt.Sprintf("%T", event), err)
	}
	return string(data), nil
}

// Wrap renders n as the outer body a subscribed queue would receive. Message
// must already hold the encoded inner event.
func Wrap(n Notification) (string, error) {
	msg := n.Message
	wire := notificationWire{
		Type:      n.Type,
		MessageID: n.MessageID,
		TopicArn:  n.TopicArn,
		Subject:   n.Subject,
		Message:   &msg,
	}
	if wire.Type == "" {
		wire.Type = NotificationType
	}
	if !n.Timestamp.IsZero() {
		wire.Timestamp = n.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	if len(n.Attributes) > 0 {
		wire.MessageAttributes = make(map[string]attributeWire, len(n.Attributes))
		for k, v := range n.Attributes {
			wire.MessageAttributes[k] = attributeWire{Type: stringAttributeType, Value: v}
		}
	}

	text, err := jsoncodec.MarshalString(wire)
	if err != nil {
		return "", errspkg.New(errspkg.ErrUnserializableEvent, "wrap", n.TopicArn, err)
	}
	return text, nil
}

func malformed(op string, cause error) error {
	return errspkg.New(errspkg.ErrMalformedEnvelope, op, "", cause)
}
