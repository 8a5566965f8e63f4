package narrator

import (
	runtimepkg "github.com/drblury/narrator/internal/runtime"
	configpkg "github.com/drblury/narrator/internal/runtime/config"
	"github.com/drblury/narrator/internal/runtime/envelope"
	errspkg "github.com/drblury/narrator/internal/runtime/errors"
	handlerpkg "github.com/drblury/narrator/internal/runtime/handlers"
	idspkg "github.com/drblury/narrator/internal/runtime/ids"
	jsoncodec "github.com/drblury/narrator/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	metadatapkg "github.com/drblury/narrator/internal/runtime/metadata"
	"github.com/drblury/narrator/internal/runtime/outcome"
	transportpkg "github.com/drblury/narrator/internal/runtime/transport"
)

type (
	Config             = configpkg.Config
	Client             = runtimepkg.Client
	ClientDependencies = runtimepkg.ClientDependencies
	Producer           = runtimepkg.Producer
	PublishOption      = runtimepkg.PublishOption
	Dialer             = transportpkg.Dialer

	Topology        = runtimepkg.Topology
	QueueBinding    = runtimepkg.QueueBinding
	TopologyChannel = runtimepkg.TopologyChannel

	Message     = envelope.Message
	DecodeError = envelope.DecodeError

	HandlerRegistration[T any] = handlerpkg.HandlerRegistration[T]
	MessageContext[T any]      = handlerpkg.MessageContext[T]
	MessageHandler[T any]      = handlerpkg.MessageHandler[T]
	MessageContextBase         = handlerpkg.MessageContextBase
	Delivery                   = handlerpkg.Delivery

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Disposition = outcome.Disposition

	DispatchState         = runtimepkg.DispatchState
	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	ConfigValidationError = errspkg.ConfigValidationError

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory
)

var (
	NewClient      = runtimepkg.NewClient
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	WithMetadata      = runtimepkg.WithMetadata
	WithHeader        = runtimepkg.WithHeader
	WithCorrelationID = runtimepkg.WithCorrelationID

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// Requeue marks a handler error as retryable: the delivery is returned
	// to its queue instead of being rejected.
	Requeue = outcome.Requeued

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrClientRequired           = errspkg.ErrClientRequired
	ErrHandlerRequired          = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired     = errspkg.ErrConsumeQueueRequired
	ErrKindRequired             = errspkg.ErrKindRequired
	ErrRoutingKeyRequired       = errspkg.ErrRoutingKeyRequired
	ErrConfigRequired           = errspkg.ErrConfigRequired
	ErrLoggerRequired           = errspkg.ErrLoggerRequired
	ErrEventPayloadRequired     = errspkg.ErrEventPayloadRequired
	ErrHandlerAlreadyRegistered = errspkg.ErrHandlerAlreadyRegistered
	ErrKindConflict             = errspkg.ErrKindConflict
	ErrAlreadyStarted           = errspkg.ErrAlreadyStarted
	ErrClientClosed             = errspkg.ErrClientClosed
	ErrConnectionUnavailable    = errspkg.ErrConnectionUnavailable
	ErrPublishNacked            = errspkg.ErrPublishNacked
	ErrRequeue                  = outcome.ErrRequeue

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	NewMessageID     = idspkg.NewMessageID
	NewCorrelationID = idspkg.NewCorrelationID
)

// Metadata keys reserved by the client.
const (
	MetadataKeyCorrelationID = handlerpkg.MetadataKeyCorrelationID
	MetadataKeyPublishedBy   = handlerpkg.MetadataKeyPublishedBy
	MetadataKeyTraceParent   = handlerpkg.MetadataKeyTraceParent
)

const (
	DispositionAck     = outcome.Ack
	DispositionReject  = outcome.Reject
	DispositionRequeue = outcome.Requeue
)

const (
	DispatchIdle         = runtimepkg.DispatchIdle
	DispatchChannelOpen  = runtimepkg.DispatchChannelOpen
	DispatchConsuming    = runtimepkg.DispatchConsuming
	DispatchReconnecting = runtimepkg.DispatchReconnecting
	DispatchClosed       = runtimepkg.DispatchClosed
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// RegisterHandler binds a typed handler to a queue for the kind of T.
func RegisterHandler[T Message](c *Client, reg HandlerRegistration[T]) error {
	return runtimepkg.RegisterHandler(c, reg)
}

// Encode returns the kind and JSON body of msg.
func Encode(msg Message) (string, []byte, error) {
	return envelope.Encode(msg)
}

// Decode strictly decodes body into a new T.
func Decode[T Message](body []byte) (T, error) {
	return envelope.Decode[T](body)
}

// KindOf returns the kind declared by T.
func KindOf[T Message]() (string, error) {
	return envelope.KindOf[T]()
}
