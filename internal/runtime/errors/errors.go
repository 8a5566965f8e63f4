package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrClientRequired              = sterrors.New("narrator: client is required")
	ErrHandlerRequired             = sterrors.New("narrator: handler function is required")
	ErrConsumeQueueRequired        = sterrors.New("narrator: consume queue is required")
	ErrHandlerNameRequired         = sterrors.New("narrator: handler name is required")
	ErrConsumeMessageTypeRequired  = sterrors.New("narrator: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("narrator: consume message type must be a pointer")
	ErrKindRequired                = sterrors.New("narrator: message kind is required")
	ErrRoutingKeyRequired          = sterrors.New("narrator: routing key is required")
	ErrConfigRequired              = sterrors.New("narrator: configuration is required")
	ErrLoggerRequired              = sterrors.New("narrator: logger is required")
	ErrEventPayloadRequired        = sterrors.New("narrator: event payload is required")

	ErrHandlerAlreadyRegistered = sterrors.New("narrator: handler already registered for queue and kind")
	ErrKindConflict             = sterrors.New("narrator: kind is already bound to a different type")
	ErrAlreadyStarted           = sterrors.New("narrator: client already started")
	ErrClientClosed             = sterrors.New("narrator: client is closed")

	ErrConnectionUnavailable = sterrors.New("narrator: broker connection unavailable")
	ErrProviderClosed        = sterrors.New("narrator: connection provider is closed")
	ErrPublishNacked         = sterrors.New("narrator: publish was not confirmed by the broker")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("narrator: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
