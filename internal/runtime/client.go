package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/narrator/internal/runtime/config"
	errspkg "github.com/drblury/narrator/internal/runtime/errors"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
	"github.com/drblury/narrator/internal/runtime/transport"
)

const tracerName = "narrator"

// ClientDependencies holds the optional collaborators of a Client. Leave
// fields nil for the defaults.
type ClientDependencies struct {
	// Dialer opens broker connections. Defaults to transport.DialAMQP.
	Dialer transport.Dialer
	// Registerer receives the client's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
	Hooks          JobHooks
	// ErrorClassifier buckets handler errors in HandlerStats.
	ErrorClassifier ErrorClassifier
}

// Client publishes and consumes messages on one topic exchange. It holds two
// connections: one for publishing and one for consuming.
type Client struct {
	conf   configpkg.Config
	logger loggingpkg.ServiceLogger

	publisher *transport.Provider
	consumer  *transport.Provider

	registry   *registry
	processor  *processor
	metrics    *clientMetrics
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	hooks      JobHooks
	classifier ErrorClassifier

	mu           sync.Mutex
	started      bool
	runCtx       context.Context
	cancelRun    context.CancelFunc
	dispatchDone chan struct{}

	state     atomic.Int32
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewClient builds a Client. No connection is opened until the client first
// needs one.
func NewClient(conf *configpkg.Config, logger loggingpkg.ServiceLogger, deps ClientDependencies) (*Client, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	cfg := conf.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	metrics, err := newClientMetrics(deps.Registerer)
	if err != nil {
		return nil, fmt.Errorf("narrator: register metrics: %w", err)
	}

	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	classifier := deps.ErrorClassifier
	if classifier == nil {
		classifier = defaultErrorClassifier
	}

	logger.Info("Creating narrator client", loggingpkg.LogFields{
		"config": cfg.String(),
	})

	c := &Client{
		conf:       cfg,
		logger:     logger,
		registry:   newRegistry(),
		metrics:    metrics,
		tracer:     tp.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
		hooks:      deps.Hooks,
		classifier: classifier,
	}
	c.state.Store(int32(DispatchIdle))

	backoffPolicy := transport.Backoff{
		MaxAttempts:     cfg.ConnectMaxAttempts,
		InitialInterval: cfg.ConnectInitialInterval,
		MaxInterval:     cfg.ConnectMaxInterval,
		MaxJitter:       cfg.ConnectJitter,
	}
	providerConfig := func(role transport.Role) transport.ProviderConfig {
		return transport.ProviderConfig{
			URL:                cfg.AMQPURL(),
			Role:               role,
			ConnectionName:     cfg.ConnectionName,
			Heartbeat:          cfg.Heartbeat,
			SupervisorInterval: cfg.SupervisorInterval,
			Backoff:            backoffPolicy,
			Dialer:             deps.Dialer,
			Logger:             logger,
			OnReconnect: func(r transport.Role) {
				metrics.recordReconnect(string(r))
			},
		}
	}

	pubConf := providerConfig(transport.RolePublisher)
	pubConf.OnReturn = c.onReturn
	c.publisher = transport.NewProvider(pubConf)
	c.consumer = transport.NewProvider(providerConfig(transport.RoleConsumer))
	c.processor = newProcessor(cfg.Concurrency, c.process)
	return c, nil
}

func (c *Client) onReturn(ret amqp.Return) {
	c.metrics.recordReturned(ret.RoutingKey)
	c.logger.Warn("Broker returned unroutable message", loggingpkg.LogFields{
		"exchange":    ret.Exchange,
		"routing_key": ret.RoutingKey,
		"kind":        ret.Type,
		"message_id":  ret.MessageId,
		"reply_code":  ret.ReplyCode,
		"reply_text":  ret.ReplyText,
	})
}

// Config returns the effective configuration.
func (c *Client) Config() configpkg.Config {
	return c.conf
}

// Logger returns the client logger.
func (c *Client) Logger() loggingpkg.ServiceLogger {
	return c.logger
}

// Configure runs fn against a scratch channel on the publisher connection.
// The channel is closed afterwards.
func (c *Client) Configure(ctx context.Context, fn func(TopologyChannel) error) error {
	if c.closed.Load() {
		return errspkg.ErrClientClosed
	}
	return c.publisher.Do(ctx, func(ctx context.Context) error {
		ch, err := c.publisher.Channel(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly(ch)
		return fn(ch)
	})
}

// ConfigureTopology declares the exchange, queues and bindings of topo.
func (c *Client) ConfigureTopology(ctx context.Context, topo Topology) error {
	if err := topo.Validate(); err != nil {
		return err
	}
	if err := c.Configure(ctx, topo.Declare); err != nil {
		return err
	}
	c.logger.Info("Topology declared", loggingpkg.LogFields{
		"exchange": topo.Exchange,
		"queues":   len(topo.Queues),
	})
	return nil
}

// QueueSize returns the number of ready messages in queue.
func (c *Client) QueueSize(ctx context.Context, queue string) (int, error) {
	if queue == "" {
		return 0, errspkg.ErrConsumeQueueRequired
	}
	if c.closed.Load() {
		return 0, errspkg.ErrClientClosed
	}
	var size int
	err := c.publisher.Do(ctx, func(ctx context.Context) error {
		ch, err := c.publisher.Channel(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly(ch)
		q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("inspect queue %s: %w", queue, err)
		}
		size = q.Messages
		return nil
	})
	return size, err
}

// Handlers describes the registered handlers and their stats.
func (c *Client) Handlers() []HandlerInfo {
	return c.registry.infos()
}

// Start launches the workers and the dispatch loop and returns immediately.
// Cancelling ctx stops consumption, as does Close.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return errspkg.ErrClientClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errspkg.ErrAlreadyStarted
	}
	c.started = true

	queues := c.registry.freeze()
	c.runCtx, c.cancelRun = context.WithCancel(ctx)
	c.processor.start()

	if len(queues) == 0 {
		c.logger.Info("No handlers registered, client will only publish", nil)
		return nil
	}

	c.dispatchDone = make(chan struct{})
	go func() {
		defer close(c.dispatchDone)
		c.dispatch(c.runCtx, queues)
	}()

	c.logger.Info("Client started", loggingpkg.LogFields{
		"queues":      queues,
		"concurrency": c.processor.workers,
		"prefetch":    c.conf.Prefetch,
	})
	return nil
}

// Close stops consumption, waits for running handlers and closes both
// connections. Queued deliveries that no worker picked up stay unacked and
// are redelivered by the broker. Close is idempotent; waiting is bounded by
// ctx.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close(ctx)
	})
	return c.closeErr
}

func (c *Client) close(ctx context.Context) error {
	c.closed.Store(true)

	c.mu.Lock()
	cancel := c.cancelRun
	dispatchDone := c.dispatchDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if dispatchDone != nil {
		select {
		case <-dispatchDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for dispatch: %w", ctx.Err()))
		}
	}

	abandoned, err := c.processor.stop(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("wait for workers: %w", err))
	}
	if abandoned > 0 {
		c.logger.Info("Abandoned queued deliveries on close", loggingpkg.LogFields{"count": abandoned})
	}

	// Flush settlements the workers scheduled before the connection goes.
	if err := c.consumer.Do(ctx, func(context.Context) error { return nil }); err != nil && !errors.Is(err, errspkg.ErrProviderClosed) {
		errs = append(errs, fmt.Errorf("flush settlements: %w", err))
	}

	if err := c.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close consumer: %w", err))
	}
	if err := c.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	c.state.Store(int32(DispatchClosed))

	c.logger.Info("Client closed", nil)
	return errors.Join(errs...)
}

func closeQuietly(ch transport.Channel) {
	if ch == nil {
		return
	}
	_ = ch.Close()
}
