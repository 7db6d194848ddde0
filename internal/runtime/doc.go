/*
Package runtime implements the topic to queue bridge behind snsbridge.

# Architecture Overview

A Publisher encodes events and sends them to a topic. The backend fans each
message out to the queues subscribed to that topic, wrapped in a
notification. A ConsumerLoop drains one queue, one message at a time, and
deletes a message only after its handler returned nil. Anything else leaves
the message in the queue; it becomes visible again once its visibility
timeout lapses.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - The backend selected by Config.Backend (AWS SNS/SQS or in-memory)
  - Provisioning of the configured topic/queue pair
  - The Publisher
  - Consumer loops and their middleware chain
  - HTTP servers for metrics and the admin API

## Consumer Loop (consumer.go, delivery.go)

States Idle, Receiving, Processing and Deleting. Cancellation is honoured
only between cycles; a started cycle always runs to completion. Failed
receives back off exponentially.

## Middleware (middleware.go, hooks.go, dedupe.go)

Handler middlewares compose around the user handler:
  - Recoverer: panic to handler failure (always outermost)
  - Tracer: OpenTelemetry span per delivery
  - LogDeliveries: debug logging
  - Retry: in-process retries before giving the message back
  - JobHooksMiddleware: start/done/error callbacks
  - Deduplicate: skip notifications handled before (memory or Redis store)

## Typed Handlers (handlers.go)

JSONHandler and ProtoHandler decode the payload into a typed value.

## Provisioning (provision.go)

Creates the topic and queue, resolves the queue ARN and subscribes the
queue. Every step is idempotent.

## Stats & Monitoring (metrics.go, latency.go, admin.go)

Prometheus counters per cycle outcome, handler latency percentiles per loop,
and a JSON admin API listing resources and consumer state.

# Sub-packages

  - config/: Service configuration with validation
  - envelope/: Notification wrapping and payload codec
  - errors/: Failure kinds and error types
  - handlers/: Message context types and typed handler building
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message attribute utilities
  - transport/: AWS and in-memory backends

# Usage Example

	cfg, _ := snsbridge.LoadConfig("SNSBRIDGE")
	svc, err := snsbridge.NewService(cfg, logger, ctx, snsbridge.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	handler, _ := snsbridge.JSONHandler(func(ctx context.Context, evt snsbridge.JSONMessageContext[*OrderCreated]) error {
		return process(evt.Payload)
	}, logger)

	return svc.Consume(ctx, handler)
*/
package runtime
