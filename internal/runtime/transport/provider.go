package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/drblury/narrator/internal/runtime/errors"
	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
)

const (
	defaultMailboxSize        = 256
	defaultSupervisorInterval = 3 * time.Second
	defaultHeartbeat          = 20 * time.Second
	returnBufferSize          = 64
)

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	URL  string
	Role Role
	// ConnectionName is reported as the connection_name client property.
	ConnectionName     string
	Heartbeat          time.Duration
	SupervisorInterval time.Duration
	Backoff            Backoff
	MailboxSize        int

	Dialer Dialer
	Logger loggingpkg.ServiceLogger

	// OnReturn receives messages the broker could not route. Only used by
	// the publisher role.
	OnReturn func(amqp.Return)
	// OnReconnect runs after a replacement connection is established.
	OnReconnect func(Role)
}

type command struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Provider owns one broker connection. The connection and its default
// channel are created lazily, cached, and recreated when found closed.
//
// Every wire operation of a client goes through the provider's mailbox and
// runs on its single owner goroutine, which also wakes on every supervisor
// interval to keep the connection alive.
type Provider struct {
	cfg ProviderConfig
	log loggingpkg.ServiceLogger

	mu          sync.Mutex
	conn        Connection
	defaultCh   Channel
	dialedOnce  bool
	connections atomic.Int64
	status      atomic.Int32

	mailbox chan command
	closing chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewProvider starts the owner goroutine. No connection is opened until one
// is needed.
func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.Dialer == nil {
		cfg.Dialer = DialAMQP
	}
	if cfg.Logger == nil {
		cfg.Logger = loggingpkg.NopLogger()
	}
	if cfg.SupervisorInterval <= 0 {
		cfg.SupervisorInterval = defaultSupervisorInterval
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = defaultMailboxSize
	}
	if cfg.Role == "" {
		cfg.Role = RolePublisher
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		cfg:     cfg,
		log:     cfg.Logger.With(loggingpkg.LogFields{"role": string(cfg.Role)}),
		mailbox: make(chan command, cfg.MailboxSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.status.Store(int32(StatusDisconnected))

	go p.run()
	return p
}

// Role returns the role the provider was built for.
func (p *Provider) Role() Role {
	return p.cfg.Role
}

// Status reports the connection state.
func (p *Provider) Status() ConnectionStatus {
	return ConnectionStatus(p.status.Load())
}

// Connections counts successful dials over the provider's lifetime.
func (p *Provider) Connections() int64 {
	return p.connections.Load()
}

// Do runs fn on the owner goroutine and waits for its result. The context
// passed to fn is cancelled when either ctx or the provider closes. fn must
// not call Do or Schedule.
func (p *Provider) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.closed.Load() {
		return errspkg.ErrProviderClosed
	}
	cmdCtx, cancel := p.mergeContext(ctx)
	defer cancel()

	cmd := command{ctx: cmdCtx, fn: fn, done: make(chan error, 1)}
	select {
	case p.mailbox <- cmd:
	case <-p.closing:
		return errspkg.ErrProviderClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-p.done:
		return errspkg.ErrProviderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule queues fn on the owner goroutine without waiting. Errors returned
// by fn are logged.
func (p *Provider) Schedule(fn func(ctx context.Context) error) error {
	if p.closed.Load() {
		return errspkg.ErrProviderClosed
	}
	select {
	case p.mailbox <- command{ctx: p.ctx, fn: fn}:
		return nil
	case <-p.closing:
		return errspkg.ErrProviderClosed
	}
}

func (p *Provider) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.SupervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closing:
			return
		case cmd := <-p.mailbox:
			err := cmd.fn(cmd.ctx)
			if cmd.done != nil {
				cmd.done <- err
			} else if err != nil {
				p.log.Error("Scheduled broker operation failed", err, nil)
			}
		case <-ticker.C:
			p.supervise()
		}
	}
}

// supervise keeps the connection warm. Failures are left for the next tick
// or the next caller.
func (p *Provider) supervise() {
	if _, err := p.Connection(p.ctx); err != nil && !p.closed.Load() {
		p.log.Warn("Supervisor could not reach broker", loggingpkg.LogFields{"error": err.Error()})
	}
}

// Connection returns the cached connection, dialing when there is none or it
// was closed. Dialing retries with backoff; when attempts run out the error
// wraps ErrConnectionUnavailable.
func (p *Provider) Connection(ctx context.Context) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectionLocked(ctx)
}

func (p *Provider) connectionLocked(ctx context.Context) (Connection, error) {
	if p.closed.Load() {
		return nil, errspkg.ErrProviderClosed
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	if p.conn != nil {
		p.log.Info("Broker connection lost, reconnecting", nil)
		p.conn = nil
		p.defaultCh = nil
	}

	p.status.Store(int32(StatusConnecting))
	conn, err := p.dialWithRetry(ctx)
	if err != nil {
		if p.closed.Load() {
			return nil, errspkg.ErrProviderClosed
		}
		p.status.Store(int32(StatusDisconnected))
		return nil, err
	}

	p.conn = conn
	p.connections.Add(1)
	p.status.Store(int32(StatusConnected))
	p.log.Info("Broker connection established", nil)

	if p.dialedOnce && p.cfg.OnReconnect != nil {
		p.cfg.OnReconnect(p.cfg.Role)
	}
	p.dialedOnce = true
	return conn, nil
}

func (p *Provider) dialWithRetry(ctx context.Context) (Connection, error) {
	ctx, cancel := p.mergeContext(ctx)
	defer cancel()

	policy := p.cfg.Backoff
	policy.Reset()

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.log.Warn("Broker dial failed, retrying", loggingpkg.LogFields{
				"error": err.Error(),
				"wait":  wait.String(),
			})
		}),
	}
	if policy.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(policy.MaxAttempts)))
	}

	conn, err := backoff.Retry(ctx, func() (Connection, error) {
		return p.cfg.Dialer(ctx, p.cfg.URL, p.amqpConfig())
	}, opts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", errspkg.ErrConnectionUnavailable, err)
	}
	return conn, nil
}

func (p *Provider) amqpConfig() amqp.Config {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(p.connectionName())
	props["purpose"] = string(p.cfg.Role)
	return amqp.Config{
		Heartbeat:  p.cfg.Heartbeat,
		Locale:     "en_US",
		Properties: props,
	}
}

func (p *Provider) connectionName() string {
	if p.cfg.ConnectionName == "" {
		return string(p.cfg.Role)
	}
	return p.cfg.ConnectionName + "-" + string(p.cfg.Role)
}

// DefaultChannel returns the provider's long-lived channel, opening it when
// needed. Publisher channels are put in confirm mode and have their returned
// messages forwarded to OnReturn.
func (p *Provider) DefaultChannel(ctx context.Context) (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.connectionLocked(ctx)
	if err != nil {
		return nil, err
	}
	if p.defaultCh != nil && !p.defaultCh.IsClosed() {
		return p.defaultCh, nil
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open default channel: %w", err)
	}
	if p.cfg.Role == RolePublisher {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("enable publisher confirms: %w", err)
		}
		returns := ch.NotifyReturn(make(chan amqp.Return, returnBufferSize))
		go p.forwardReturns(returns)
	}
	p.defaultCh = ch
	return ch, nil
}

// forwardReturns drains returns until the channel closes. The client library
// blocks its reader when a notification listener is not consumed.
func (p *Provider) forwardReturns(returns <-chan amqp.Return) {
	for ret := range returns {
		if p.cfg.OnReturn != nil {
			p.cfg.OnReturn(ret)
		}
	}
}

// Channel opens a fresh channel on the current connection. The caller owns
// it and must close it.
func (p *Provider) Channel(ctx context.Context) (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.connectionLocked(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	return p.closed.Load()
}

// Close is terminal. It stops the owner goroutine and closes the connection.
// Connections the broker already closed are not an error.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()
		close(p.closing)
		<-p.done

		p.mu.Lock()
		defer p.mu.Unlock()

		if p.defaultCh != nil {
			if err := ignoreClosed(p.defaultCh.Close()); err != nil {
				p.log.Debug("Closing default channel failed", loggingpkg.LogFields{"error": err.Error()})
			}
			p.defaultCh = nil
		}
		if p.conn != nil {
			p.closeErr = ignoreClosed(p.conn.Close())
			p.conn = nil
		}
		p.status.Store(int32(StatusClosed))
	})
	return p.closeErr
}

func (p *Provider) mergeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
