package runtime

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	"github.com/drblury/narrator/internal/runtime/outcome"
)

// process runs one invocation on a worker and schedules its settlement.
func (c *Client) process(inv *invocation) {
	h := inv.handler
	if inv.channel.IsClosed() {
		// The broker already requeued it; the tag is dead.
		c.logger.Debug("Dropping delivery from closed channel", loggingpkg.LogFields{
			"handler":    h.name,
			"message_id": inv.info.MessageID,
		})
		return
	}

	ctx := c.propagator.Extract(c.runCtx, propagation.MapCarrier(inv.metadata))
	ctx, span := c.tracer.Start(ctx, "narrator.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", inv.info.Queue),
			attribute.String("messaging.message.id", inv.info.MessageID),
			attribute.String("messaging.rabbitmq.routing_key", inv.info.RoutingKey),
			attribute.String("narrator.kind", h.kind),
			attribute.String("narrator.handler", h.name),
		),
	)
	defer span.End()

	jobCtx := JobContext{
		HandlerName: h.name,
		Queue:       inv.info.Queue,
		Kind:        h.kind,
		MessageID:   inv.info.MessageID,
		Metadata:    inv.metadata,
		Context:     ctx,
		StartedAt:   time.Now(),
		Redelivered: inv.info.Redelivered,
	}
	c.hooks.start(jobCtx)
	h.stats.onMessageStart(c.processor.depth(), inv.info.PublishedAt)

	err := outcome.Invoke(func() error {
		return h.call(ctx, inv)
	})

	duration := time.Since(jobCtx.StartedAt)
	disposition := outcome.Classify(err)
	jobCtx.Duration = duration
	jobCtx.Disposition = disposition

	h.stats.onMessageFinish(duration, err, disposition, c.classifier)
	c.hooks.finish(jobCtx, err)
	c.metrics.setQueueDepth(c.processor.depth())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("narrator.disposition", disposition.String()))

	if err != nil && c.stopping() && errors.Is(err, context.Canceled) {
		// Interrupted by shutdown: leave it unacked so it is redelivered.
		c.logger.Info("Handler interrupted by shutdown, leaving delivery unacked", loggingpkg.LogFields{
			"handler":    h.name,
			"message_id": inv.info.MessageID,
		})
		return
	}

	c.metrics.recordSettlement(inv.info.Queue, h.kind, disposition, err, duration)
	if err != nil && disposition == outcome.Reject {
		c.logger.Error("Handler failed, rejecting delivery", err, loggingpkg.LogFields{
			"handler":    h.name,
			"queue":      inv.info.Queue,
			"message_id": inv.info.MessageID,
		})
	}
	c.settle(inv.channel, inv.info.Queue, inv.tag, disposition)
}

// stopping reports whether consumption is winding down, either through Close
// or through cancellation of the context given to Start.
func (c *Client) stopping() bool {
	return c.closed.Load() || c.runCtx.Err() != nil
}
