package handlers

import metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"

// Metadata keys reserved by the bridge.
const (
	// MetadataKeyCorrelationID tracks related messages across services.
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID

	// MetadataKeyEventSchema names the Go type of a published event.
	MetadataKeyEventSchema = "event_message_schema"
)
