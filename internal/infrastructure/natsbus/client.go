package natsbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/meterhub-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReconnectWait  = 2 * time.Second
	maxQoS                = 2
)

// MessageHandler is the callback signature for received messages.
type MessageHandler = func(topic string, payload []byte) error

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type subscription struct {
	subject string
	handler MessageHandler
}

// Client wraps a NATS connection as a push transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cfg config.NATSConfig

	mu            sync.RWMutex
	nc            *nats.Conn
	subscriptions map[string]subscription
	connected     bool
	started       bool
	closed        bool

	callbackMu     sync.RWMutex
	onConnect      func()
	onDisconnect   func(err error)
	onReconnecting func()

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates a client without connecting.
func New(cfg config.NATSConfig) *Client {
	return &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}
}

// options builds the nats.go connection options.
func (c *Client) options() []nats.Option {
	wait := c.cfg.ReconnectWait
	if wait <= 0 {
		wait = defaultReconnectWait
	}

	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.Timeout(c.connectTimeout()),
		nats.ConnectHandler(func(*nats.Conn) { c.handleConnect() }),
		nats.ReconnectHandler(func(*nats.Conn) { c.handleConnect() }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.handleDisconnect(err)
		}),
	}
	if c.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}
	return opts
}

func (c *Client) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return c.cfg.ConnectTimeout
}

// Start connects in the background and applies tracked subscriptions.
//
// Returns:
//   - error: only for invalid options; unreachable servers are retried
func (c *Client) Start() error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	nc, err := nats.Connect(c.cfg.URL, c.options()...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.nc = nc
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.subscribe(nc, sub); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("nats subscribe failed", "subject", sub.subject, "error", err)
			}
		}
	}

	if nc.IsConnected() {
		c.handleConnect()
		return nil
	}

	c.handleReconnecting()
	go c.watchInitialConnect(c.connectTimeout())
	return nil
}

// watchInitialConnect reports a failure if no connection exists after timeout.
func (c *Client) watchInitialConnect(timeout time.Duration) {
	time.Sleep(timeout)
	c.mu.RLock()
	done := c.connected || c.closed
	c.mu.RUnlock()
	if done {
		return
	}
	c.handleDisconnect(fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout))
}

// Subscribe registers a handler for an MQTT-style filter.
//
// Subscriptions made before Start are applied when Start runs; nats.go
// restores them after reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	subject, err := FilterToSubject(topic)
	if err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	sub := subscription{subject: subject, handler: handler}

	c.mu.Lock()
	c.subscriptions[subject] = sub
	nc := c.nc
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	return c.subscribe(nc, sub)
}

func (c *Client) subscribe(nc *nats.Conn, sub subscription) error {
	_, err := nc.Subscribe(sub.subject, func(msg *nats.Msg) {
		c.dispatch(sub.handler, SubjectToTopic(msg.Subject), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// dispatch invokes handler, recovering panics and logging returned errors.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("nats handler panic recovered", "topic", topic, "panic", r)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("nats handler returned error", "topic", topic, "error", err)
		}
	}
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

func (c *Client) handleConnect() {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = true
	c.mu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Info("nats connected", "url", c.cfg.URL)
	}

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if logger := c.getLogger(); logger != nil {
		logger.Warn("nats connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) handleReconnecting() {
	c.callbackMu.RLock()
	callback := c.onReconnecting
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck reports whether the connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("nats health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	nc := c.nc
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	if nc.IsConnected() {
		if err := nc.Drain(); err == nil {
			return nil
		}
	}
	nc.Close()
	return nil
}

// SetOnConnect sets a callback invoked on every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost or
// the first connection times out.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnReconnecting sets a callback invoked while connection attempts are underway.
func (c *Client) SetOnReconnecting(callback func()) {
	c.callbackMu.Lock()
	c.onReconnecting = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection and handler diagnostics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
