package runtime

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/narrator/internal/runtime/envelope"
	errspkg "github.com/drblury/narrator/internal/runtime/errors"
	handlerpkg "github.com/drblury/narrator/internal/runtime/handlers"
	idspkg "github.com/drblury/narrator/internal/runtime/ids"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	metadatapkg "github.com/drblury/narrator/internal/runtime/metadata"
)

// Producer emits typed messages onto the exchange.
type Producer interface {
	Publish(ctx context.Context, routingKey string, msg envelope.Message, opts ...PublishOption) error
}

var _ Producer = (*Client)(nil)

type publishOptions struct {
	metadata      metadatapkg.Metadata
	correlationID string
}

// PublishOption adjusts a single publish.
type PublishOption func(*publishOptions)

// WithMetadata adds headers to the message.
func WithMetadata(md metadatapkg.Metadata) PublishOption {
	return func(o *publishOptions) {
		o.metadata = o.metadata.WithAll(md)
	}
}

// WithHeader adds one header to the message.
func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		o.metadata = o.metadata.With(key, value)
	}
}

// WithCorrelationID sets the correlation ID property and header. Replies
// usually pass the ID of the request they answer.
func WithCorrelationID(id string) PublishOption {
	return func(o *publishOptions) {
		o.correlationID = id
	}
}

// Publish sends msg to the exchange with routingKey and waits for the broker
// to confirm it. The message kind travels in the type property. Nothing is
// buffered: when no connection can be obtained the error is returned.
func (c *Client) Publish(ctx context.Context, routingKey string, msg envelope.Message, opts ...PublishOption) error {
	if c.closed.Load() {
		return errspkg.ErrClientClosed
	}
	if routingKey == "" {
		return errspkg.ErrRoutingKeyRequired
	}

	kind, body, err := envelope.Encode(msg)
	if err != nil {
		return err
	}
	return c.publish(ctx, routingKey, kind, body, opts)
}

// PublishRaw publishes an already encoded body under kind. Bridges that
// relay foreign messages use it; everything else should use Publish.
func (c *Client) PublishRaw(ctx context.Context, routingKey, kind string, body []byte, opts ...PublishOption) error {
	if c.closed.Load() {
		return errspkg.ErrClientClosed
	}
	if routingKey == "" {
		return errspkg.ErrRoutingKeyRequired
	}
	if kind == "" {
		return errspkg.ErrKindRequired
	}
	return c.publish(ctx, routingKey, kind, body, opts)
}

func (c *Client) publish(ctx context.Context, routingKey, kind string, body []byte, opts []PublishOption) error {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	// The confirm wait holds the publisher's owner goroutine, so it is never
	// left unbounded.
	if _, ok := ctx.Deadline(); !ok && c.conf.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.PublishTimeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "narrator.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", c.conf.Exchange),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
			attribute.String("narrator.kind", kind),
		),
	)
	defer span.End()

	headers := o.metadata.Clone()
	if o.correlationID == "" {
		o.correlationID = headers.Get(handlerpkg.MetadataKeyCorrelationID)
	}
	if o.correlationID != "" {
		headers[handlerpkg.MetadataKeyCorrelationID] = o.correlationID
	}
	headers[handlerpkg.MetadataKeyPublishedBy] = c.conf.ConnectionName
	c.propagator.Inject(ctx, propagation.MapCarrier(headers))

	messageID := idspkg.NewMessageID()
	span.SetAttributes(attribute.String("messaging.message.id", messageID))

	publishing := amqp.Publishing{
		Headers:       headers.ToTable(),
		ContentType:   envelope.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: o.correlationID,
		MessageId:     messageID,
		Timestamp:     time.Now().UTC(),
		Type:          kind,
		AppId:         c.conf.ConnectionName,
		Body:          body,
	}

	err := c.publisher.Do(ctx, func(ctx context.Context) error {
		ch, err := c.publisher.DefaultChannel(ctx)
		if err != nil {
			return err
		}
		confirm, err := ch.Publish(ctx, c.conf.Exchange, routingKey, true, publishing)
		if err != nil {
			return fmt.Errorf("publish %s: %w", kind, err)
		}
		if confirm == nil {
			return nil
		}
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("await confirm for %s: %w", kind, err)
		}
		if !acked {
			return fmt.Errorf("%w: %s to %s", errspkg.ErrPublishNacked, kind, routingKey)
		}
		return nil
	})
	if err != nil {
		c.metrics.recordPublishFailure(routingKey)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Publish failed", loggingpkg.LogFields{
			"routing_key": routingKey,
			"kind":        kind,
			"message_id":  messageID,
			"error":       err.Error(),
		})
		return err
	}

	c.metrics.recordPublished(routingKey, kind)
	c.logger.Trace("Message published", loggingpkg.LogFields{
		"routing_key": routingKey,
		"kind":        kind,
		"message_id":  messageID,
	})
	return nil
}
