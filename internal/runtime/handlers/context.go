package handlers

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	metadatapkg "github.com/drblury/narrator/internal/runtime/metadata"
)

// MessageContextBase holds the metadata and logger every handler receives.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the incoming headers, suitable as the
// metadata of a reply.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata.Get(key)
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata.Get(MetadataKeyCorrelationID)
}

// Delivery describes where a message came from.
type Delivery struct {
	Queue       string
	Kind        string
	MessageID   string
	RoutingKey  string
	Redelivered bool
	// PublishedAt is the publisher's timestamp, zero when absent.
	PublishedAt time.Time
	ReceivedAt  time.Time
}

// MessageContext is what a typed handler receives for one delivery.
type MessageContext[T any] struct {
	MessageContextBase
	Payload  T
	Delivery Delivery
}

// MessageHandler processes one decoded message. Returning nil acknowledges
// the delivery; see the outcome package for how errors settle it.
type MessageHandler[T any] func(ctx context.Context, msg MessageContext[T]) error

// HandlerRegistration binds a typed handler to a queue. The message kind is
// taken from T.
type HandlerRegistration[T any] struct {
	// Name identifies the handler in logs and stats. Defaults to
	// "<queue>/<kind>".
	Name    string
	Queue   string
	Handler MessageHandler[T]
}
