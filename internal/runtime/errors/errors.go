package errors

import (
	sterrors "errors"
	"fmt"
)

// Failure kinds. Errors produced by the bridge carry one of these, matched
// through errors.Is.
var (
	ErrProvisioningFailure = sterrors.New("snsbridge: provisioning failure")
	ErrPublishRejected     = sterrors.New("snsbridge: publish rejected")
	ErrMalformedEnvelope   = sterrors.New("snsbridge: malformed envelope")
	ErrHandlerFailure      = sterrors.New("snsbridge: handler failure")
	ErrDeleteFailure       = sterrors.New("snsbridge: delete failure")
	ErrBackendUnavailable  = sterrors.New("snsbridge: backend unavailable")
	ErrUnserializableEvent = sterrors.New("snsbridge: unserializable event")
)

var (
	ErrBackendRequired      = sterrors.New("snsbridge: backend is required")
	ErrHandlerRequired      = sterrors.New("snsbridge: handler function is required")
	ErrTopicRequired        = sterrors.New("snsbridge: topic is required")
	ErrQueueRequired        = sterrors.New("snsbridge: queue is required")
	ErrEventRequired        = sterrors.New("snsbridge: event payload is required")
	ErrReceiptHandleInvalid = sterrors.New("snsbridge: receipt handle is invalid")
	ErrUnknownBackend       = sterrors.New("snsbridge: unknown backend")

	ErrConsumeMessageTypeRequired  = sterrors.New("snsbridge: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("snsbridge: consume message type must be a pointer")

	// ErrDeliveryInProgress reports a redelivery of a notification whose first
	// attempt has not finished yet.
	ErrDeliveryInProgress = sterrors.New("snsbridge: delivery already in progress")
)

// Error annotates a failure with the operation and resource it happened on.
// Kind is one of the failure kinds above; Err is the underlying cause.
type Error struct {
	Kind     error
	Op       string
	Resource string
	Err      error
}

// New builds an *Error of the given kind.
func New(kind error, op, resource string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Op)
	}
	if e.Resource != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error kind in addition to the wrapped cause chain.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

var kinds = []error{
	ErrProvisioningFailure,
	ErrPublishRejected,
	ErrMalformedEnvelope,
	ErrHandlerFailure,
	ErrDeleteFailure,
	ErrBackendUnavailable,
	ErrUnserializableEvent,
}

// Classify returns the failure kind carried by err, or nil when err is nil or
// carries no known kind. When kinds are nested the outermost *Error wins.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if sterrors.As(err, &typed) && typed.Kind != nil {
		return typed.Kind
	}
	for _, kind := range kinds {
		if sterrors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short stable label for a failure kind, suitable for
// metrics and log fields.
func KindName(kind error) string {
	switch kind {
	case ErrProvisioningFailure:
		return "provisioning_failure"
	case ErrPublishRejected:
		return "publish_rejected"
	case ErrMalformedEnvelope:
		return "malformed_envelope"
	case ErrHandlerFailure:
		return "handler_failure"
	case ErrDeleteFailure:
		return "delete_failure"
	case ErrBackendUnavailable:
		return "backend_unavailable"
	case ErrUnserializableEvent:
		return "unserializable_event"
	case nil:
		return "none"
	default:
		return "unknown"
	}
}

// ConfigValidationError reports an invalid Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "snsbridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
