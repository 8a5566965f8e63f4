// Package watermill adapts a narrator client to watermill's message.Publisher
// so routers built on watermill can emit onto the narrator exchange.
package watermill

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	runtimepkg "github.com/drblury/narrator/internal/runtime"
	errspkg "github.com/drblury/narrator/internal/runtime/errors"
	metadatapkg "github.com/drblury/narrator/internal/runtime/metadata"
)

// MetadataKeyKind names the watermill metadata entry carrying the message kind.
const MetadataKeyKind = "narrator_kind"

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("narrator: watermill publisher is closed")

// RawPublisher is the subset of *runtime.Client the bridge needs.
type RawPublisher interface {
	PublishRaw(ctx context.Context, routingKey, kind string, body []byte, opts ...runtimepkg.PublishOption) error
}

// Publisher implements message.Publisher on top of a RawPublisher. The topic
// is used as the routing key.
type Publisher struct {
	client RawPublisher
	logger watermill.LoggerAdapter
	closed atomic.Bool
}

var _ message.Publisher = (*Publisher)(nil)

// NewPublisher returns a Publisher. A nil logger discards log output.
func NewPublisher(client RawPublisher, logger watermill.LoggerAdapter) (*Publisher, error) {
	if client == nil {
		return nil, errspkg.ErrClientRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{client: client, logger: logger}, nil
}

// Publish sends every message in order and stops at the first failure.
func (p *Publisher) Publish(topic string, msgs ...*message.Message) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	for _, msg := range msgs {
		if err := p.publish(topic, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(topic string, msg *message.Message) error {
	fields := watermill.LogFields{"topic": topic, "message_uuid": msg.UUID}

	kind := msg.Metadata.Get(MetadataKeyKind)
	if kind == "" {
		return fmt.Errorf("message %s: %w", msg.UUID, errspkg.ErrKindRequired)
	}

	md := metadatapkg.FromWatermill(msg.Metadata)
	delete(md, MetadataKeyKind)

	if err := p.client.PublishRaw(msg.Context(), topic, kind, msg.Payload, runtimepkg.WithMetadata(md)); err != nil {
		p.logger.Error("Publishing watermill message failed", err, fields)
		return fmt.Errorf("message %s: %w", msg.UUID, err)
	}
	p.logger.Trace("Published watermill message", fields.Add(watermill.LogFields{"kind": kind}))
	return nil
}

// Close marks the publisher closed. The underlying client is left open.
func (p *Publisher) Close() error {
	p.closed.Store(true)
	return nil
}
