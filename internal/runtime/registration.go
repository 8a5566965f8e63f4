package runtime

import (
	"context"
	"fmt"
	"reflect"

	"github.com/drblury/narrator/internal/runtime/envelope"
	errspkg "github.com/drblury/narrator/internal/runtime/errors"
	handlerpkg "github.com/drblury/narrator/internal/runtime/handlers"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
)

// RegisterHandler binds a typed handler to a queue for the kind of T.
// Deliveries on the queue whose type property matches the kind are decoded
// into a fresh T and passed to the handler. Registration must happen before
// Start.
func RegisterHandler[T envelope.Message](c *Client, reg handlerpkg.HandlerRegistration[T]) error {
	if c == nil {
		return errspkg.ErrClientRequired
	}
	if reg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if reg.Queue == "" {
		return errspkg.ErrConsumeQueueRequired
	}

	kind, err := envelope.KindOf[T]()
	if err != nil {
		return err
	}
	factory, err := envelope.Prototype[T]()
	if err != nil {
		return err
	}

	name := reg.Name
	if name == "" {
		name = fmt.Sprintf("%s/%s", reg.Queue, kind)
	}

	var zero T
	handler := reg.Handler
	h := &registeredHandler{
		name:    name,
		queue:   reg.Queue,
		kind:    kind,
		msgType: reflect.TypeOf(zero),
		stats:   newHandlerStats(),
		decode: func(body []byte) (envelope.Message, error) {
			msg := factory()
			if err := envelope.DecodeInto(body, msg); err != nil {
				return nil, err
			}
			return msg, nil
		},
	}
	h.call = func(ctx context.Context, inv *invocation) error {
		payload, ok := inv.payload.(T)
		if !ok {
			return fmt.Errorf("narrator: handler %s got %T, want %T", name, inv.payload, zero)
		}
		return handler(ctx, handlerpkg.MessageContext[T]{
			MessageContextBase: handlerpkg.MessageContextBase{
				Metadata: inv.metadata,
				Logger: c.logger.With(loggingpkg.LogFields{
					"handler":    name,
					"queue":      inv.info.Queue,
					"kind":       kind,
					"message_id": inv.info.MessageID,
				}),
			},
			Payload:  payload,
			Delivery: inv.info,
		})
	}

	if err := c.registry.add(h); err != nil {
		return err
	}
	c.logger.Debug("Handler registered", loggingpkg.LogFields{
		"handler": name,
		"queue":   reg.Queue,
		"kind":    kind,
	})
	return nil
}
