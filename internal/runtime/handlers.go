package runtime

import (
	"context"

	"google.golang.org/protobuf/proto"

	handlerpkg "github.com/drblury/snsbridge/internal/runtime/handlers"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
)

// JSONHandler adapts a typed JSON handler to a consumer Handler.
func JSONHandler[T any](handler handlerpkg.JSONMessageHandler[T], logger loggingpkg.ServiceLogger) (Handler, error) {
	built, err := handlerpkg.BuildJSONHandler(handler, logger)
	if err != nil {
		return nil, err
	}
	return adaptHandlerFunc(built), nil
}

// ProtoHandler adapts a typed protobuf handler to a consumer Handler.
func ProtoHandler[T proto.Message](prototype T, handler handlerpkg.ProtoMessageHandler[T], logger loggingpkg.ServiceLogger) (Handler, error) {
	built, err := handlerpkg.BuildProtoHandler(prototype, handler, logger)
	if err != nil {
		return nil, err
	}
	return adaptHandlerFunc(built), nil
}

func adaptHandlerFunc(fn handlerpkg.HandlerFunc) Handler {
	return func(ctx context.Context, d *Delivery) error {
		return fn(ctx, handlerpkg.Incoming{
			MessageID:    d.MessageID,
			Payload:      d.Payload,
			Metadata:     d.Metadata,
			ReceiveCount: d.ReceiveCount,
		})
	}
}
