package handlers

import (
	"context"

	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
)

// Incoming is the decoded view of a delivery that typed handlers consume.
type Incoming struct {
	MessageID    string
	Payload      []byte
	Metadata     metadatapkg.Metadata
	ReceiveCount int
}

// HandlerFunc processes one decoded delivery.
type HandlerFunc func(ctx context.Context, in Incoming) error

// MessageContextBase holds what JSON and proto handlers share besides the
// payload.
type MessageContextBase struct {
	MessageID    string
	Metadata     metadatapkg.Metadata
	ReceiveCount int
	Logger       loggingpkg.ServiceLogger
}

func newMessageContextBase(in Incoming, logger loggingpkg.ServiceLogger) MessageContextBase {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return MessageContextBase{
		MessageID:    in.MessageID,
		Metadata:     in.Metadata.Clone(),
		ReceiveCount: in.ReceiveCount,
		Logger:       logger,
	}
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[MetadataKeyCorrelationID]
}

// Redelivered reports whether this message was received before.
func (b MessageContextBase) Redelivered() bool {
	return b.ReceiveCount > 1
}
