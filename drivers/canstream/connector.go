package canstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"go.einride.tech/can/pkg/dbc"

	"github.com/timzifer/connreg/runtime/connections"
)

const defaultTimeout = 5 * time.Second

// Settings are the connection options understood by the CAN stream connector.
type Settings struct {
	Protocol    string        `mapstructure:"protocol"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	DBC         string        `mapstructure:"dbc"`
}

// Connector dials CAN-over-IP gateways that emit fixed 13 byte frame records.
// Addresses are "host:port" or "canstream://host:port".
type Connector struct{}

var _ connections.Connector = Connector{}

// NewConnector returns a CAN stream connector.
func NewConnector() Connector {
	return Connector{}
}

// Connect loads the optional DBC database and dials the gateway.
func (Connector) Connect(ctx context.Context, spec connections.Spec, options connections.Options) (connections.Handle, error) {
	var settings Settings
	if err := connections.DecodeOptions(options, &settings); err != nil {
		return nil, fmt.Errorf("canstream: %w", err)
	}
	address := strings.TrimPrefix(strings.TrimSpace(spec.Address), "canstream://")
	if address == "" {
		return nil, errors.New("canstream: address is required")
	}

	var messages messageIndex
	if path := strings.TrimSpace(settings.DBC); path != "" {
		idx, err := loadDBC(path)
		if err != nil {
			return nil, err
		}
		messages = idx
	}

	conn, err := dial(ctx, address, settings)
	if err != nil {
		return nil, err
	}
	return newStream(conn, messages, settings.ReadTimeout), nil
}

func dial(ctx context.Context, address string, settings Settings) (net.Conn, error) {
	protocol := strings.ToLower(strings.TrimSpace(settings.Protocol))
	if protocol == "" {
		protocol = "udp"
	}
	if protocol != "udp" && protocol != "tcp" {
		return nil, fmt.Errorf("canstream: unsupported protocol %q", settings.Protocol)
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, protocol, address)
	if err != nil {
		return nil, fmt.Errorf("canstream: dial %s %s: %w", protocol, address, err)
	}
	return conn, nil
}

func loadDBC(path string) (messageIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return messageIndex{}, fmt.Errorf("canstream: read dbc %s: %w", path, err)
	}
	parser := dbc.NewParser(path, data)
	if err := parser.Parse(); err != nil {
		return messageIndex{}, fmt.Errorf("canstream: parse dbc %s: %w", path, err)
	}
	idx := indexMessages(parser.Defs())
	if len(idx.byID) == 0 {
		return messageIndex{}, fmt.Errorf("canstream: dbc %s contains no message definitions", path)
	}
	return idx, nil
}
