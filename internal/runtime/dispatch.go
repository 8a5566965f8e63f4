package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	"github.com/drblury/narrator/internal/runtime/outcome"
	"github.com/drblury/narrator/internal/runtime/transport"
)

// DispatchState is the state of the consumer dispatch loop.
type DispatchState int32

const (
	DispatchIdle DispatchState = iota
	DispatchChannelOpen
	DispatchConsuming
	DispatchReconnecting
	DispatchClosed
)

func (s DispatchState) String() string {
	switch s {
	case DispatchIdle:
		return "idle"
	case DispatchChannelOpen:
		return "channel_open"
	case DispatchConsuming:
		return "consuming"
	case DispatchReconnecting:
		return "reconnecting"
	case DispatchClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DispatchState reports where the dispatch loop is.
func (c *Client) DispatchState() DispatchState {
	return DispatchState(c.state.Load())
}

func (c *Client) setState(s DispatchState) {
	c.state.Store(int32(s))
}

var errDeliveriesClosed = errors.New("narrator: consumer channel closed")

type queueStream struct {
	queue      string
	deliveries <-chan amqp.Delivery
}

type queuedDelivery struct {
	queue    string
	delivery amqp.Delivery
}

// dispatch consumes every registered queue until ctx is cancelled, opening a
// new channel after each failure.
func (c *Client) dispatch(ctx context.Context, queues []string) {
	for {
		c.setState(DispatchIdle)
		err := c.consume(ctx, queues)
		if ctx.Err() != nil {
			return
		}

		c.setState(DispatchReconnecting)
		delay := c.conf.ReconnectDelay
		if c.conf.ReconnectJitter > 0 {
			delay += time.Duration(rand.Int64N(int64(c.conf.ReconnectJitter)))
		}
		c.logger.Warn("Consumer channel failed, reconnecting", loggingpkg.LogFields{
			"error": errString(err),
			"wait":  delay.String(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// consume runs one channel generation. It returns when the channel fails or
// ctx is cancelled.
func (c *Client) consume(ctx context.Context, queues []string) error {
	var (
		ch      transport.Channel
		closed  chan *amqp.Error
		streams []queueStream
	)

	err := c.consumer.Do(ctx, func(ctx context.Context) error {
		var err error
		ch, err = c.consumer.Channel(ctx)
		if err != nil {
			return err
		}
		if err := ch.Qos(c.conf.Prefetch, 0, false); err != nil {
			closeQuietly(ch)
			return fmt.Errorf("set prefetch: %w", err)
		}
		closed = ch.NotifyClose(make(chan *amqp.Error, 1))
		c.setState(DispatchChannelOpen)

		for _, queue := range queues {
			tag := fmt.Sprintf("%s-%s", c.conf.ConnectionName, queue)
			deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
			if err != nil {
				closeQuietly(ch)
				return fmt.Errorf("consume %s: %w", queue, err)
			}
			streams = append(streams, queueStream{queue: queue, deliveries: deliveries})
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.setState(DispatchConsuming)
	c.logger.Info("Consuming", loggingpkg.LogFields{"queues": queues})

	merged := make(chan queuedDelivery)
	stop := make(chan struct{})
	var forwarders sync.WaitGroup
	for _, s := range streams {
		forwarders.Add(1)
		go func(s queueStream) {
			defer forwarders.Done()
			for d := range s.deliveries {
				select {
				case merged <- queuedDelivery{queue: s.queue, delivery: d}:
				case <-stop:
					return
				}
			}
		}(s)
	}
	// Forwarders exit once their delivery channel closes, which happens with
	// the channel itself.
	defer close(stop)

	streamsDone := make(chan struct{})
	go func() {
		forwarders.Wait()
		close(streamsDone)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			c.discardChannel(ch)
			if amqpErr != nil {
				return amqpErr
			}
			return errDeliveriesClosed
		case <-streamsDone:
			c.discardChannel(ch)
			return errDeliveriesClosed
		case qd := <-merged:
			c.handleDelivery(ch, qd.queue, qd.delivery)
		}
	}
}

func (c *Client) discardChannel(ch transport.Channel) {
	_ = c.consumer.Schedule(func(context.Context) error {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
		return nil
	})
}

// handleDelivery routes one delivery to its handler through the processor.
// It never blocks on handler work.
func (c *Client) handleDelivery(ch transport.Channel, queue string, d amqp.Delivery) {
	kind := d.Type
	c.metrics.recordDelivery(queue, kind)

	h, ok := c.registry.lookup(queue, kind)
	if !ok {
		c.logger.Warn("No handler for message kind, rejecting", loggingpkg.LogFields{
			"queue":      queue,
			"kind":       kind,
			"message_id": d.MessageId,
		})
		c.metrics.recordRejected(queue, RejectReasonUnknownKind)
		c.settle(ch, queue, d.DeliveryTag, outcome.Reject)
		return
	}

	payload, err := h.decode(d.Body)
	if err != nil {
		c.logger.Warn("Message body could not be decoded, rejecting", loggingpkg.LogFields{
			"queue":      queue,
			"kind":       kind,
			"message_id": d.MessageId,
			"error":      err.Error(),
		})
		c.metrics.recordRejected(queue, RejectReasonDecodeError)
		h.stats.recordDecodeFailure(err, c.classifier)
		c.settle(ch, queue, d.DeliveryTag, outcome.Reject)
		return
	}

	if !c.processor.submit(newInvocation(h, payload, queue, ch, d)) {
		// Closing: leave the delivery unacked for redelivery.
		return
	}
	c.metrics.setQueueDepth(c.processor.depth())
}

// settle schedules an ack, reject or requeue on the consumer connection. It
// is skipped when the delivery's channel has closed, since the broker has
// already requeued the delivery.
func (c *Client) settle(ch transport.Channel, queue string, tag uint64, disposition outcome.Disposition) {
	err := c.consumer.Schedule(func(context.Context) error {
		if ch.IsClosed() {
			return nil
		}
		switch disposition {
		case outcome.Ack:
			return ch.Ack(tag, false)
		case outcome.Requeue:
			return ch.Nack(tag, false, true)
		default:
			return ch.Reject(tag, false)
		}
	})
	if err != nil {
		c.logger.Debug("Could not schedule settlement", loggingpkg.LogFields{
			"queue":       queue,
			"disposition": disposition.String(),
			"error":       err.Error(),
		})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
