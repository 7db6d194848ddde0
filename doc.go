// Package snsbridge publishes JSON events to an SNS-style topic and drains the
// SQS-style queues subscribed to it. It reads the backend (AWS SNS/SQS, or an
// in-memory emulation for tests and local development) from Config,
// provisions the topic/queue pair and runs consumer loops that hold at most
// one message at a time.
//
// Service ties it together: Provision creates the topic, the queue and the
// subscription between them; Publish encodes an event and sends it to the
// topic; Consume runs a ConsumerLoop per queue until the context is
// cancelled. A minimal setup therefore involves filling Config (or calling
// LoadConfig), creating a Service and calling Consume with a Handler.
//
// # Delivery semantics
//
// A loop receives one message, decodes the notification wrapper, runs the
// handler and deletes the message only when the handler returned nil. A
// malformed body, a failed handler or a failed delete leaves the message in
// the queue; it becomes visible again once the visibility timeout lapses.
// Delivery is therefore at-least-once, and handlers should be idempotent or
// sit behind the Deduplicate middleware.
//
// # Backends
//
//   - aws: SNS and SQS through aws-sdk-go-v2, with LocalStack support via
//     Config.AWSEndpoint
//   - memory: topics fan out over Watermill Go channels into queues that
//     honour visibility timeout, delay and retention
//
// # Middleware
//
// The default chain adds OpenTelemetry tracing and debug logging; panics are
// always recovered into handler failures. Retry, JobHooksMiddleware and
// Deduplicate (memory or Redis store) are opt-in through
// ServiceDependencies.
//
// # Observability
//
// Prometheus counters per cycle outcome and publish result are served on
// Config.MetricsPort. The admin API on Config.AdminPort lists topics, queues
// and the state of every consumer loop.
package snsbridge
