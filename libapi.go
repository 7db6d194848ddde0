package snsbridge

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/snsbridge/internal/runtime"
	configpkg "github.com/drblury/snsbridge/internal/runtime/config"
	"github.com/drblury/snsbridge/internal/runtime/envelope"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/snsbridge/internal/runtime/handlers"
	idspkg "github.com/drblury/snsbridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/snsbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
	transportpkg "github.com/drblury/snsbridge/internal/runtime/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc
	MemoryOptions        = transportpkg.MemoryOptions
	QueueAttributes      = transportpkg.QueueAttributes

	ConsumerLoop   = runtimepkg.ConsumerLoop
	ConsumerConfig = runtimepkg.ConsumerConfig
	ConsumerOption = runtimepkg.ConsumerOption
	State          = runtimepkg.State
	Outcome        = runtimepkg.Outcome
	Delivery       = runtimepkg.Delivery
	Handler        = runtimepkg.Handler

	HandlerMiddleware     = runtimepkg.HandlerMiddleware
	RetryMiddlewareConfig = runtimepkg.RetryMiddlewareConfig
	DedupeStore           = runtimepkg.DedupeStore
	DedupeStatus          = runtimepkg.DedupeStatus
	DedupeOption          = runtimepkg.DedupeOption
	RedisClient           = runtimepkg.RedisClient

	JSONMessageContext[T any]            = handlerpkg.JSONMessageContext[T]
	JSONMessageHandler[T any]            = handlerpkg.JSONMessageHandler[T]
	ProtoMessageContext[T proto.Message] = handlerpkg.ProtoMessageContext[T]
	ProtoMessageHandler[T proto.Message] = handlerpkg.ProtoMessageHandler[T]
	MessageContextBase                   = handlerpkg.MessageContextBase

	Producer         = runtimepkg.Producer
	Publisher        = runtimepkg.Publisher
	PublisherOption  = runtimepkg.PublisherOption
	ProvisionRequest = runtimepkg.ProvisionRequest
	Binding          = runtimepkg.Binding

	Notification = envelope.Notification
	Payload      = envelope.Payload
	Metadata     = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError
	Error                 = errspkg.Error

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	Metrics         = runtimepkg.Metrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot
	QueueMetrics    = runtimepkg.QueueMetrics
	LatencySummary  = runtimepkg.LatencySummary
	ConsumerReport  = runtimepkg.ConsumerReport
	ResourceListing = runtimepkg.ResourceListing
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewConsumerLoop       = runtimepkg.NewConsumerLoop
	WithConsumerLogger    = runtimepkg.WithConsumerLogger
	WithConsumerMetrics   = runtimepkg.WithConsumerMetrics
	WithHandlerMiddleware = runtimepkg.WithHandlerMiddleware
	WithConsumerTracer    = runtimepkg.WithConsumerTracer
	WithConsumerClock     = runtimepkg.WithConsumerClock

	NewPublisher            = runtimepkg.NewPublisher
	WithPublisherLogger     = runtimepkg.WithPublisherLogger
	WithPublisherMetrics    = runtimepkg.WithPublisherMetrics
	WithTopicResolver       = runtimepkg.WithTopicResolver
	Provision               = runtimepkg.Provision
	NewMetrics              = runtimepkg.NewMetrics
	DefaultTransportFactory = transportpkg.DefaultFactory
	NewAWSTransport         = transportpkg.NewAWSTransport
	NewMemoryTransport      = transportpkg.NewMemoryTransport

	Chain                   = runtimepkg.Chain
	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	RecovererMiddleware     = runtimepkg.Recoverer
	TracerMiddleware        = runtimepkg.Tracer
	LogDeliveriesMiddleware = runtimepkg.LogDeliveries
	RetryMiddleware         = runtimepkg.Retry
	Deduplicate             = runtimepkg.Deduplicate
	NewMemoryDedupeStore    = runtimepkg.NewMemoryDedupeStore
	NewRedisDedupeStore     = runtimepkg.NewRedisDedupeStore
	WithDedupeClaimTTL      = runtimepkg.WithDedupeClaimTTL

	// Job lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks

	DecodeEnvelope     = envelope.Decode
	DecodeNotification = envelope.DecodeNotification
	EncodeEvent        = envelope.Encode
	EncodeProtoEvent   = envelope.EncodeProto
	WrapNotification   = envelope.Wrap

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ClassifyError = errspkg.Classify

	ErrProvisioningFailure = errspkg.ErrProvisioningFailure
	ErrPublishRejected     = errspkg.ErrPublishRejected
	ErrMalformedEnvelope   = errspkg.ErrMalformedEnvelope
	ErrHandlerFailure      = errspkg.ErrHandlerFailure
	ErrDeleteFailure       = errspkg.ErrDeleteFailure
	ErrBackendUnavailable  = errspkg.ErrBackendUnavailable
	ErrUnserializableEvent = errspkg.ErrUnserializableEvent

	ErrBackendRequired             = errspkg.ErrBackendRequired
	ErrHandlerRequired             = errspkg.ErrHandlerRequired
	ErrTopicRequired               = errspkg.ErrTopicRequired
	ErrQueueRequired               = errspkg.ErrQueueRequired
	ErrEventRequired               = errspkg.ErrEventRequired
	ErrReceiptHandleInvalid        = errspkg.ErrReceiptHandleInvalid
	ErrUnknownBackend              = errspkg.ErrUnknownBackend
	ErrConsumeMessageTypeRequired  = errspkg.ErrConsumeMessageTypeRequired
	ErrConsumeMessagePointerNeeded = errspkg.ErrConsumeMessagePointerNeeded
	ErrDeliveryInProgress          = errspkg.ErrDeliveryInProgress

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Backend names accepted by Config.Backend.
const (
	BackendAWS    = configpkg.BackendAWS
	BackendMemory = configpkg.BackendMemory
)

// Consumer states, cycle outcomes and dedupe statuses.
const (
	StateIdle       = runtimepkg.StateIdle
	StateReceiving  = runtimepkg.StateReceiving
	StateProcessing = runtimepkg.StateProcessing
	StateDeleting   = runtimepkg.StateDeleting

	OutcomeNone          = runtimepkg.OutcomeNone
	OutcomeDeleted       = runtimepkg.OutcomeDeleted
	OutcomeMalformed     = runtimepkg.OutcomeMalformed
	OutcomeHandlerFailed = runtimepkg.OutcomeHandlerFailed
	OutcomeDeleteFailed  = runtimepkg.OutcomeDeleteFailed
	OutcomeReceiveFailed = runtimepkg.OutcomeReceiveFailed

	DedupeClaimed    = runtimepkg.DedupeClaimed
	DedupeInProgress = runtimepkg.DedupeInProgress
	DedupeDone       = runtimepkg.DedupeDone
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = handlerpkg.MetadataKeyCorrelationID
	MetadataKeyEventSchema   = handlerpkg.MetadataKeyEventSchema
)

func JSONHandler[T any](handler JSONMessageHandler[T], logger ServiceLogger) (Handler, error) {
	return runtimepkg.JSONHandler(handler, logger)
}

func ProtoHandler[T proto.Message](prototype T, handler ProtoMessageHandler[T], logger ServiceLogger) (Handler, error) {
	return runtimepkg.ProtoHandler(prototype, handler, logger)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
