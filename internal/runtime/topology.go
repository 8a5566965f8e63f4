package runtime

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueBinding declares a durable queue bound to the exchange once per
// routing key.
type QueueBinding struct {
	Name        string
	RoutingKeys []string
}

// Topology is the exchange and queues a client publishes to and consumes
// from.
type Topology struct {
	Exchange string
	Queues   []QueueBinding
}

// TopologyChannel is the part of a channel Declare needs.
type TopologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Validate checks the topology is well formed.
func (t Topology) Validate() error {
	var errs []error
	if t.Exchange == "" {
		errs = append(errs, errors.New("topology: exchange is required"))
	}
	seen := make(map[string]struct{}, len(t.Queues))
	for _, q := range t.Queues {
		if q.Name == "" {
			errs = append(errs, errors.New("topology: queue name is required"))
			continue
		}
		if _, dup := seen[q.Name]; dup {
			errs = append(errs, fmt.Errorf("topology: queue %s declared twice", q.Name))
		}
		seen[q.Name] = struct{}{}
		for _, key := range q.RoutingKeys {
			if key == "" {
				errs = append(errs, fmt.Errorf("topology: queue %s has an empty routing key", q.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// Declare idempotently declares a durable topic exchange, durable quorum
// queues, and their bindings.
func (t Topology) Declare(ch TopologyChannel) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	for _, q := range t.Queues {
		args := amqp.Table{amqp.QueueTypeArg: amqp.QueueTypeQuorum}
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		for _, key := range q.RoutingKeys {
			if err := ch.QueueBind(q.Name, key, t.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.Name, key, err)
			}
		}
	}
	return nil
}
