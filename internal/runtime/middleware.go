package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
)

// RetryMiddlewareConfig customises the in-process retry middleware.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the chain the Service installs on every loop.
func DefaultMiddlewares(logger loggingpkg.ServiceLogger) []HandlerMiddleware {
	return []HandlerMiddleware{
		Tracer(),
		LogDeliveries(logger),
	}
}

// Recoverer converts a handler panic into a handler failure carrying the
// panic value and stack.
func Recoverer() HandlerMiddleware {
	return func(h Handler) Handler {
		return func(ctx context.Context, d *Delivery) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errspkg.New(errspkg.ErrHandlerFailure, "handle", d.MessageID,
						fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
				}
			}()
			return h(ctx, d)
		}
	}
}

// Tracer wraps handler execution in an OpenTelemetry span.
func Tracer() HandlerMiddleware {
	return func(h Handler) Handler {
		return func(ctx context.Context, d *Delivery) error {
			ctx, span := otel.Tracer(tracerName).Start(ctx, "snsbridge.handle")
			defer span.End()

			span.SetAttributes(
				attribute.String("message.id", d.MessageID),
				attribute.String("message.topic_arn", d.Notification.TopicArn),
				attribute.String("message.metadata", fmt.Sprintf("%v", d.Metadata)),
			)
			err := h(ctx, d)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// LogDeliveries logs the payload and metadata of every handled delivery at
// debug level.
func LogDeliveries(logger loggingpkg.ServiceLogger) HandlerMiddleware {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return func(h Handler) Handler {
		return func(ctx context.Context, d *Delivery) error {
			logger.Debug("Processing delivery", loggingpkg.LogFields{
				"message_id": d.MessageID,
				"payload":    d.Payload.String(),
				"metadata":   d.Metadata,
			})
			return h(ctx, d)
		}
	}
}

// Retry re-runs a failing handler in process before the failure reaches the
// loop. Attempts share the delivery's visibility window, so keep the total
// delay well below it.
func Retry(cfg RetryMiddlewareConfig) HandlerMiddleware {
	normalized := cfg.withDefaults()
	return func(h Handler) Handler {
		return func(ctx context.Context, d *Delivery) error {
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = normalized.InitialInterval
			policy.MaxInterval = normalized.MaxInterval

			_, err := backoff.Retry(ctx, func() (struct{}, error) {
				err := h(ctx, d)
				if err != nil && normalized.RetryIf != nil && !normalized.RetryIf(err) {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			},
				backoff.WithBackOff(policy),
				backoff.WithMaxTries(uint(normalized.MaxRetries)+1),
			)
			return err
		}
	}
}
