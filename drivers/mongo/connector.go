package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/timzifer/connreg/runtime/connections"
)

const disconnectTimeout = 5 * time.Second

// Settings are the options understood by the MongoDB connector.
type Settings struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	AppName     string        `mapstructure:"app_name"`
	MaxPoolSize uint64        `mapstructure:"max_pool_size"`
	AuthSource  string        `mapstructure:"auth_source"`
	SkipPing    bool          `mapstructure:"skip_ping"`
}

// Client is the handle returned for MongoDB connections.
type Client struct {
	*mongo.Client
}

// Close disconnects the client.
func (c *Client) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return c.Disconnect(ctx)
}

// Connector creates MongoDB clients from a connection URI.
type Connector struct{}

var _ connections.Connector = Connector{}

// NewConnector returns a MongoDB connector.
func NewConnector() Connector {
	return Connector{}
}

// Connect builds the client options from the URI and the spec credentials,
// connects, and pings the primary unless skip_ping is set.
func (Connector) Connect(ctx context.Context, spec connections.Spec, opts connections.Options) (connections.Handle, error) {
	var settings Settings
	if err := connections.DecodeOptions(opts, &settings); err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	clientOpts := clientOptions(spec, settings)
	if err := clientOpts.Validate(); err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	handle := &Client{Client: client}
	if settings.SkipPing {
		return handle, nil
	}

	pingCtx := ctx
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return handle, nil
}

func clientOptions(spec connections.Spec, settings Settings) *options.ClientOptions {
	clientOpts := options.Client().ApplyURI(spec.Address)
	if spec.Username != "" {
		credential := options.Credential{
			Username:   spec.Username,
			Password:   spec.Password,
			AuthSource: settings.AuthSource,
		}
		if clientOpts.Auth != nil {
			credential.AuthMechanism = clientOpts.Auth.AuthMechanism
			if credential.AuthSource == "" {
				credential.AuthSource = clientOpts.Auth.AuthSource
			}
		}
		clientOpts.SetAuth(credential)
	}
	if settings.Timeout > 0 {
		clientOpts.SetConnectTimeout(settings.Timeout)
		clientOpts.SetServerSelectionTimeout(settings.Timeout)
	}
	if settings.AppName != "" {
		clientOpts.SetAppName(settings.AppName)
	}
	if settings.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(settings.MaxPoolSize)
	}
	return clientOpts
}
