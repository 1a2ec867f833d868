package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/timzifer/connreg/runtime/connections"
)

// Settings are the options understood by the Redis connector.
type Settings struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	DB       *int          `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	SkipPing bool          `mapstructure:"skip_ping"`
}

// Connector creates *redis.Client handles from redis:// or rediss:// URLs.
type Connector struct{}

var _ connections.Connector = Connector{}

// NewConnector returns a Redis connector.
func NewConnector() Connector {
	return Connector{}
}

// Connect parses the URL, applies the spec credentials and options, and pings
// the server unless skip_ping is set.
func (Connector) Connect(ctx context.Context, spec connections.Spec, opts connections.Options) (connections.Handle, error) {
	var settings Settings
	if err := connections.DecodeOptions(opts, &settings); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	clientOpts, err := clientOptions(spec, settings)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(clientOpts)
	if settings.SkipPing {
		return client, nil
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func clientOptions(spec connections.Spec, settings Settings) (*goredis.Options, error) {
	clientOpts, err := goredis.ParseURL(spec.Address)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if spec.Username != "" {
		clientOpts.Username = spec.Username
	}
	if spec.Password != "" {
		clientOpts.Password = spec.Password
	}
	if settings.Timeout > 0 {
		clientOpts.DialTimeout = settings.Timeout
		clientOpts.ReadTimeout = settings.Timeout
		clientOpts.WriteTimeout = settings.Timeout
	}
	if settings.DB != nil {
		clientOpts.DB = *settings.DB
	}
	if settings.PoolSize > 0 {
		clientOpts.PoolSize = settings.PoolSize
	}
	return clientOpts, nil
}
