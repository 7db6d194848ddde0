package handlers

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	jsoncodec "github.com/drblury/snsbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
)

// JSONMessageContext exposes the decoded payload and metadata to JSON handlers.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// JSONMessageHandler processes a JSON payload. T must be a pointer type.
type JSONMessageHandler[T any] func(ctx context.Context, event JSONMessageContext[T]) error

// BuildJSONHandler converts a typed JSON handler into a HandlerFunc. A payload
// that does not decode into T fails the handler.
func BuildJSONHandler[T any](handler JSONMessageHandler[T], logger loggingpkg.ServiceLogger) (HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, in Incoming) error {
		typed := prototypeFactory()

		if err := jsoncodec.Unmarshal(in.Payload, typed); err != nil {
			return fmt.Errorf("failed to unmarshal JSON payload into %T: %w", typed, err)
		}

		return handler(ctx, JSONMessageContext[T]{
			MessageContextBase: newMessageContextBase(in, logger),
			Payload:            typed,
		})
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrConsumeMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}
