// Package transporttest provides an in-memory broker implementing the
// transport Connection and Channel interfaces. It routes publishes through
// exchange bindings, honours per-channel prefetch, and records settlements
// so tests can assert on acks and rejects.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/narrator/internal/runtime/transport"
)

// ErrDialRefused is returned by Dial while dial failures are injected.
var ErrDialRefused = errors.New("transporttest: connection refused")

// Settlement records how a delivery was settled.
type Settlement struct {
	Queue   string
	Kind    string
	Body    []byte
	Action  string // "ack", "reject" or "nack"
	Requeue bool
}

// Published records a message accepted by the broker.
type Published struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Msg        amqp.Publishing
	Routed     []string
}

type message struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
	redelivery bool
}

type queue struct {
	name      string
	args      amqp.Table
	pending   []message
	consumers []*consumer
	next      int
}

type consumer struct {
	tag   string
	queue string
	ch    *Channel
	out   chan amqp.Delivery
}

// Broker is a goroutine-safe fake RabbitMQ.
type Broker struct {
	mu sync.Mutex

	exchanges map[string]string
	queues    map[string]*queue
	bindings  map[string]map[string][]string

	conns       []*Conn
	dials       int
	failDials   int
	nackPublish bool
	holdConfirm bool

	published   []Published
	settlements []Settlement
	qos         []int
	notify      chan struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		exchanges: make(map[string]string),
		queues:    make(map[string]*queue),
		bindings:  make(map[string]map[string][]string),
		notify:    make(chan struct{}, 1),
	}
}

// Dial implements transport.Dialer.
func (b *Broker) Dial(ctx context.Context, _ string, cfg amqp.Config) (transport.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.failDials > 0 {
		b.failDials--
		return nil, ErrDialRefused
	}
	conn := &Conn{broker: b, props: cfg.Properties}
	b.conns = append(b.conns, conn)
	return conn, nil
}

// FailDials makes the next n dials fail.
func (b *Broker) FailDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDials = n
}

// HoldConfirms makes subsequent publisher confirms never arrive, as with a
// broker under flow control.
func (b *Broker) HoldConfirms(hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdConfirm = hold
}

// NackPublishes makes subsequent publisher confirms negative.
func (b *Broker) NackPublishes(nack bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nackPublish = nack
}

// Dials counts dial attempts, failed ones included.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Connections returns every connection dialed so far.
func (b *Broker) Connections() []*Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Conn(nil), b.conns...)
}

// DropConnections closes every open connection as if the network failed.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	conns := append([]*Conn(nil), b.conns...)
	b.mu.Unlock()

	for _, c := range conns {
		c.drop(&amqp.Error{Code: amqp.ConnectionForced, Reason: "connection dropped", Server: true})
	}
}

// Published returns the accepted publishes.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// Settlements returns the acks, nacks and rejects seen so far.
func (b *Broker) Settlements() []Settlement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Settlement(nil), b.settlements...)
}

// QosCalls returns the prefetch counts requested, in order.
func (b *Broker) QosCalls() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.qos...)
}

// QueueDepth returns the number of ready messages in a queue.
func (b *Broker) QueueDepth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.pending)
	}
	return 0
}

// Bindings returns the routing keys bound from exchange to queue.
func (b *Broker) Bindings(exchange, queueName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for key, queues := range b.bindings[exchange] {
		for _, q := range queues {
			if q == queueName {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// QueueArgs returns the declare arguments of a queue.
func (b *Broker) QueueArgs(name string) amqp.Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q.args
	}
	return nil
}

// ExchangeKind returns the declared kind of an exchange.
func (b *Broker) ExchangeKind(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchanges[name]
}

// WaitFor polls cond until it holds or timeout passes.
func (b *Broker) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-b.notify:
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Inject enqueues a raw message on a queue, bypassing exchanges.
func (b *Broker) Inject(queueName string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.ensureQueueLocked(queueName, nil)
	q.pending = append(q.pending, message{msg: msg})
	b.pumpLocked()
}

func (b *Broker) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Broker) ensureQueueLocked(name string, args amqp.Table) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{name: name, args: args}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) routeLocked(exchange, key string) []string {
	if exchange == "" {
		if _, ok := b.queues[key]; ok {
			return []string{key}
		}
		return nil
	}
	return append([]string(nil), b.bindings[exchange][key]...)
}

// pumpLocked hands ready messages to consumers whose channel has prefetch
// capacity, round robin per queue.
func (b *Broker) pumpLocked() {
	for _, q := range b.queues {
		for len(q.pending) > 0 {
			c := q.nextConsumer()
			if c == nil {
				break
			}
			m := q.pending[0]
			q.pending = q.pending[1:]
			c.ch.deliverLocked(c, m)
		}
	}
	b.signal()
}

func (q *queue) nextConsumer() *consumer {
	n := len(q.consumers)
	for i := 0; i < n; i++ {
		c := q.consumers[(q.next+i)%n]
		if c.ch.hasCapacityLocked() {
			q.next = (q.next + i + 1) % n
			return c
		}
	}
	return nil
}

func (q *queue) removeConsumers(ch *Channel) {
	kept := q.consumers[:0]
	for _, c := range q.consumers {
		if c.ch != ch {
			kept = append(kept, c)
		}
	}
	q.consumers = kept
	q.next = 0
}

// Conn is a fake connection.
type Conn struct {
	broker   *Broker
	props    amqp.Table
	closed   bool
	channels []*Channel
	notifies []chan *amqp.Error
}

// Properties returns the client properties the connection was dialed with.
func (c *Conn) Properties() amqp.Table {
	return c.props
}

func (c *Conn) Channel() (transport.Channel, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &Channel{conn: c, unacked: make(map[uint64]unackedDelivery)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// Channels returns every channel opened on the connection.
func (c *Conn) Channels() []*Channel {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return append([]*Channel(nil), c.channels...)
}

func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notifies = append(c.notifies, receiver)
	return receiver
}

func (c *Conn) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

func (c *Conn) Close() error {
	c.broker.mu.Lock()
	closed := c.closed
	c.broker.mu.Unlock()
	if closed {
		return amqp.ErrClosed
	}
	c.drop(nil)
	return nil
}

func (c *Conn) drop(reason *amqp.Error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked(reason)
	}
	for _, n := range c.notifies {
		if reason != nil {
			select {
			case n <- reason:
			default:
			}
		}
		close(n)
	}
	c.notifies = nil
	b.pumpLocked()
}

type unackedDelivery struct {
	queue string
	msg   message
}

// Channel is a fake channel.
type Channel struct {
	conn     *Conn
	closed   bool
	confirm  bool
	prefetch int
	nextTag  uint64
	unacked  map[uint64]unackedDelivery
	consumer []*consumer
	returns  []chan amqp.Return
	notifies []chan *amqp.Error
}

func (ch *Channel) hasCapacityLocked() bool {
	return !ch.closed && (ch.prefetch <= 0 || len(ch.unacked) < ch.prefetch)
}

func (ch *Channel) deliverLocked(c *consumer, m message) {
	ch.nextTag++
	tag := ch.nextTag
	ch.unacked[tag] = unackedDelivery{queue: c.queue, msg: m}
	c.out <- amqp.Delivery{
		Headers:         m.msg.Headers,
		ContentType:     m.msg.ContentType,
		DeliveryMode:    m.msg.DeliveryMode,
		CorrelationId:   m.msg.CorrelationId,
		ReplyTo:         m.msg.ReplyTo,
		MessageId:       m.msg.MessageId,
		Timestamp:       m.msg.Timestamp,
		Type:            m.msg.Type,
		AppId:           m.msg.AppId,
		ConsumerTag:     c.tag,
		DeliveryTag:     tag,
		Redelivered:     m.redelivery,
		Exchange:        m.exchange,
		RoutingKey:      m.routingKey,
		Body:            m.msg.Body,
	}
}

func (ch *Channel) closeLocked(reason *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true
	b := ch.conn.broker
	// Unacked deliveries return to their queue, as on a real broker.
	for _, d := range ch.unacked {
		if q, ok := b.queues[d.queue]; ok {
			d.msg.redelivery = true
			q.pending = append([]message{d.msg}, q.pending...)
		}
	}
	ch.unacked = map[uint64]unackedDelivery{}
	for _, q := range b.queues {
		q.removeConsumers(ch)
	}
	for _, c := range ch.consumer {
		close(c.out)
	}
	ch.consumer = nil
	for _, r := range ch.returns {
		close(r)
	}
	ch.returns = nil
	for _, n := range ch.notifies {
		if reason != nil {
			select {
			case n <- reason:
			default:
			}
		}
		close(n)
	}
	ch.notifies = nil
}

func (ch *Channel) lock() *Broker {
	b := ch.conn.broker
	b.mu.Lock()
	return b
}

// Prefetch returns the prefetch count set through Qos.
func (ch *Channel) Prefetch() int {
	b := ch.lock()
	defer b.mu.Unlock()
	return ch.prefetch
}

// ConfirmMode reports whether Confirm was called.
func (ch *Channel) ConfirmMode() bool {
	b := ch.lock()
	defer b.mu.Unlock()
	return ch.confirm
}

// Fail closes the channel with a broker error, as a channel exception would.
func (ch *Channel) Fail() {
	b := ch.lock()
	defer b.mu.Unlock()
	ch.closeLocked(&amqp.Error{Code: amqp.PreconditionFailed, Reason: "channel failed", Server: true})
	b.pumpLocked()
}

func (ch *Channel) Qos(prefetchCount, _ int, _ bool) error {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	b.qos = append(b.qos, prefetchCount)
	return nil
}

func (ch *Channel) Confirm(bool) error {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirm = true
	return nil
}

func (ch *Channel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if existing, ok := b.exchanges[name]; ok && existing != kind {
		ch.closeLocked(&amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent exchange type"})
		return fmt.Errorf("transporttest: exchange %s already declared as %s", name, existing)
	}
	b.exchanges[name] = kind
	return nil
}

func (ch *Channel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q := b.ensureQueueLocked(name, args)
	return amqp.Queue{Name: name, Messages: len(q.pending), Consumers: len(q.consumers)}, nil
}

func (ch *Channel) QueueDeclarePassive(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "no queue '" + name + "'", Server: true}
		ch.closeLocked(err)
		return amqp.Queue{}, err
	}
	return amqp.Queue{Name: name, Messages: len(q.pending), Consumers: len(q.consumers)}, nil
}

func (ch *Channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := b.exchanges[exchange]; !ok {
		return fmt.Errorf("transporttest: exchange %s not declared", exchange)
	}
	if _, ok := b.queues[name]; !ok {
		return fmt.Errorf("transporttest: queue %s not declared", name)
	}
	if b.bindings[exchange] == nil {
		b.bindings[exchange] = make(map[string][]string)
	}
	for _, existing := range b.bindings[exchange][key] {
		if existing == name {
			return nil
		}
	}
	b.bindings[exchange][key] = append(b.bindings[exchange][key], name)
	return nil
}

func (ch *Channel) Consume(queueName, tag string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if autoAck {
		return nil, errors.New("transporttest: auto-ack is not supported")
	}
	q, ok := b.queues[queueName]
	if !ok {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "no queue '" + queueName + "'", Server: true}
		ch.closeLocked(err)
		return nil, err
	}
	c := &consumer{tag: tag, queue: queueName, ch: ch, out: make(chan amqp.Delivery, 1024)}
	q.consumers = append(q.consumers, c)
	ch.consumer = append(ch.consumer, c)
	b.pumpLocked()
	return c.out, nil
}

func (ch *Channel) Publish(_ context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (transport.Confirmation, error) {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if _, ok := b.exchanges[exchange]; exchange != "" && !ok {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "no exchange '" + exchange + "'", Server: true}
		ch.closeLocked(err)
		return nil, err
	}

	routed := b.routeLocked(exchange, key)
	b.published = append(b.published, Published{Exchange: exchange, RoutingKey: key, Mandatory: mandatory, Msg: msg, Routed: routed})
	for _, name := range routed {
		q := b.queues[name]
		q.pending = append(q.pending, message{exchange: exchange, routingKey: key, msg: msg})
	}
	if len(routed) == 0 && mandatory {
		ret := amqp.Return{
			ReplyCode:     amqp.NoRoute,
			ReplyText:     "NO_ROUTE",
			Exchange:      exchange,
			RoutingKey:    key,
			ContentType:   msg.ContentType,
			MessageId:     msg.MessageId,
			CorrelationId: msg.CorrelationId,
			Type:          msg.Type,
			Headers:       msg.Headers,
			Body:          msg.Body,
		}
		for _, r := range ch.returns {
			select {
			case r <- ret:
			default:
			}
		}
	}
	b.pumpLocked()

	if !ch.confirm {
		return nil, nil
	}
	if b.holdConfirm {
		return heldConfirmation{}, nil
	}
	return confirmation(!b.nackPublish), nil
}

func (ch *Channel) NotifyReturn(receiver chan amqp.Return) chan amqp.Return {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.returns = append(ch.returns, receiver)
	return receiver
}

func (ch *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notifies = append(ch.notifies, receiver)
	return receiver
}

func (ch *Channel) settle(tag uint64, action string, requeue bool) error {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	d, ok := ch.unacked[tag]
	if !ok {
		err := &amqp.Error{Code: amqp.PreconditionFailed, Reason: fmt.Sprintf("unknown delivery tag %d", tag)}
		ch.closeLocked(err)
		return err
	}
	delete(ch.unacked, tag)
	b.settlements = append(b.settlements, Settlement{
		Queue:   d.queue,
		Kind:    d.msg.msg.Type,
		Body:    d.msg.msg.Body,
		Action:  action,
		Requeue: requeue,
	})
	if requeue {
		if q, ok := b.queues[d.queue]; ok {
			d.msg.redelivery = true
			q.pending = append(q.pending, d.msg)
		}
	}
	b.pumpLocked()
	return nil
}

func (ch *Channel) Ack(tag uint64, _ bool) error {
	return ch.settle(tag, "ack", false)
}

func (ch *Channel) Nack(tag uint64, _ bool, requeue bool) error {
	return ch.settle(tag, "nack", requeue)
}

func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.settle(tag, "reject", requeue)
}

func (ch *Channel) IsClosed() bool {
	b := ch.lock()
	defer b.mu.Unlock()
	return ch.closed
}

func (ch *Channel) Close() error {
	b := ch.lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked(nil)
	b.pumpLocked()
	return nil
}

type heldConfirmation struct{}

func (heldConfirmation) WaitContext(ctx context.Context) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

type confirmation bool

func (c confirmation) WaitContext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return bool(c), nil
}
