package modbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goburrow/modbus"

	"github.com/timzifer/connreg/runtime/connections"
)

const defaultTimeout = 5 * time.Second

// Settings are the connection options understood by the Modbus TCP connector.
type Settings struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	UnitID      uint8         `mapstructure:"unit_id"`
	SkipPing    bool          `mapstructure:"skip_ping"`
}

// Client is a Modbus TCP client bound to a single handler.
type Client struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

// Close closes the underlying TCP connection.
func (c *Client) Close() error {
	if c == nil || c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

// Connector dials Modbus TCP servers. Addresses are "host:port" or
// "modbus://host:port". Credentials are ignored; Modbus has none.
type Connector struct{}

var _ connections.Connector = Connector{}

// NewConnector returns a Modbus TCP connector.
func NewConnector() Connector {
	return Connector{}
}

// Connect opens the TCP connection unless skip_ping is set, in which case the
// handler dials on first request.
func (Connector) Connect(ctx context.Context, spec connections.Spec, options connections.Options) (connections.Handle, error) {
	var settings Settings
	if err := connections.DecodeOptions(options, &settings); err != nil {
		return nil, fmt.Errorf("modbus: %w", err)
	}
	handler, err := newHandler(spec.Address, settings)
	if err != nil {
		return nil, err
	}
	client := &Client{Client: modbus.NewClient(handler), handler: handler}
	if settings.SkipPing {
		return client, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbus: connect %s: %w", handler.Address, err)
	}
	return client, nil
}

func newHandler(address string, settings Settings) (*modbus.TCPClientHandler, error) {
	address = strings.TrimPrefix(strings.TrimSpace(address), "modbus://")
	if address == "" {
		return nil, errors.New("modbus: address is required")
	}
	if settings.Timeout < 0 || settings.IdleTimeout < 0 {
		return nil, errors.New("modbus: timeouts must not be negative")
	}
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = settings.UnitID
	handler.Timeout = settings.Timeout
	if handler.Timeout == 0 {
		handler.Timeout = defaultTimeout
	}
	if settings.IdleTimeout > 0 {
		handler.IdleTimeout = settings.IdleTimeout
	}
	return handler, nil
}
