package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/narrator/internal/runtime/envelope"
	handlerpkg "github.com/drblury/narrator/internal/runtime/handlers"
	metadatapkg "github.com/drblury/narrator/internal/runtime/metadata"
	"github.com/drblury/narrator/internal/runtime/transport"
)

// invocation is one decoded delivery waiting for a worker.
type invocation struct {
	handler  *registeredHandler
	payload  envelope.Message
	metadata metadatapkg.Metadata
	info     handlerpkg.Delivery
	tag      uint64
	// channel is the consumer channel the delivery arrived on. Its tag is
	// meaningless on any other channel.
	channel transport.Channel
}

func newInvocation(h *registeredHandler, payload envelope.Message, queueName string, ch transport.Channel, d amqp.Delivery) *invocation {
	return &invocation{
		handler:  h,
		payload:  payload,
		metadata: metadatapkg.FromTable(d.Headers),
		info: handlerpkg.Delivery{
			Queue:       queueName,
			Kind:        d.Type,
			MessageID:   d.MessageId,
			RoutingKey:  d.RoutingKey,
			Redelivered: d.Redelivered,
			PublishedAt: d.Timestamp,
			ReceivedAt:  time.Now().UTC(),
		},
		tag:     d.DeliveryTag,
		channel: ch,
	}
}

// invocationQueue is an unbounded FIFO. Broker prefetch is what bounds it.
type invocationQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

func newInvocationQueue() *invocationQueue {
	q := &invocationQueue{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push reports false once the queue is closed.
func (q *invocationQueue) push(inv *invocation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items.Add(inv)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available. It returns false once the queue is
// closed; items still queued at that point are abandoned.
func (q *invocationQueue) pop() (*invocation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	return q.items.Remove().(*invocation), true
}

func (q *invocationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// close wakes every waiting worker and returns the number of abandoned items.
func (q *invocationQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	abandoned := q.items.Length()
	q.items = queue.New()
	q.cond.Broadcast()
	return abandoned
}

// processor runs invocations on a fixed pool of workers.
type processor struct {
	queue   *invocationQueue
	workers int
	run     func(*invocation)
	wg      sync.WaitGroup
}

func newProcessor(workers int, run func(*invocation)) *processor {
	if workers < 1 {
		workers = 1
	}
	return &processor{
		queue:   newInvocationQueue(),
		workers: workers,
		run:     run,
	}
}

func (p *processor) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *processor) worker() {
	defer p.wg.Done()
	for {
		inv, ok := p.queue.pop()
		if !ok {
			return
		}
		p.run(inv)
	}
}

func (p *processor) submit(inv *invocation) bool {
	return p.queue.push(inv)
}

func (p *processor) depth() int {
	return p.queue.len()
}

// stop closes the queue and waits for running invocations, bounded by ctx.
func (p *processor) stop(ctx context.Context) (abandoned int, err error) {
	abandoned = p.queue.close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return abandoned, nil
	case <-ctx.Done():
		return abandoned, ctx.Err()
	}
}
