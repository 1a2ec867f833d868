package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/connreg/runtime/connections"
)

// Client is a connected MQTT client shared by every caller that resolves the
// same identifier. Subscribers register OnConnect handlers to restore their
// subscriptions after a reconnect.
type Client struct {
	client   mqtt.Client
	settings Settings

	mu       sync.RWMutex
	handlers map[uint64]mqtt.OnConnectHandler
	nextID   atomic.Uint64
}

func newClient(settings Settings) *Client {
	return &Client{
		settings: settings,
		handlers: make(map[uint64]mqtt.OnConnectHandler),
	}
}

func (c *Client) handleOnConnect(client mqtt.Client) {
	c.mu.RLock()
	handlers := make([]mqtt.OnConnectHandler, 0, len(c.handlers))
	for _, handler := range c.handlers {
		if handler != nil {
			handlers = append(handlers, handler)
		}
	}
	c.mu.RUnlock()
	for _, handler := range handlers {
		handler(client)
	}
}

// AddOnConnect registers handler for every (re)connect and runs it at once
// when the client is already connected. The returned func removes it.
func (c *Client) AddOnConnect(handler mqtt.OnConnectHandler) func() {
	if handler == nil {
		return func() {}
	}
	id := c.nextID.Add(1) - 1
	c.mu.Lock()
	c.handlers[id] = handler
	c.mu.Unlock()
	if c.client != nil && c.client.IsConnected() {
		handler(c.client)
	}
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Client returns the underlying paho client.
func (c *Client) Client() mqtt.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.client.IsConnectionOpen() {
		c.client.Disconnect(uint(c.settings.disconnectWait().Milliseconds()))
	}
	return nil
}

// Connector opens MQTT client connections. Addresses are broker URLs
// ("mqtt://", "mqtts://", "tcp://", "ssl://", "ws://") or bare "host:port".
type Connector struct {
	logger zerolog.Logger
}

var _ connections.Connector = (*Connector)(nil)

// NewConnector returns an MQTT connector that reports connection loss to logger.
func NewConnector(logger zerolog.Logger) *Connector {
	return &Connector{logger: logger}
}

// Connect connects to the broker and waits for the CONNACK, bounded by ctx
// and the timeout option.
func (c *Connector) Connect(ctx context.Context, spec connections.Spec, options connections.Options) (connections.Handle, error) {
	var settings Settings
	if err := connections.DecodeOptions(options, &settings); err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}

	handle := newClient(settings)
	opts, err := clientOptions(spec, settings, c.logger, handle.handleOnConnect)
	if err != nil {
		return nil, err
	}
	handle.client = mqtt.NewClient(opts)

	token := handle.client.Connect()
	timer := time.NewTimer(settings.connectTimeout())
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		handle.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect: %w", ctx.Err())
	case <-timer.C:
		handle.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect timeout after %s", settings.connectTimeout())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}
	return handle, nil
}
