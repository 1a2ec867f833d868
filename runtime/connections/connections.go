package connections

import (
	"context"
	"maps"
)

// Handle represents a live database connection created by a Connector.
//
// Handles are shared by reference between every caller resolving the same
// identifier, so concrete implementations (*sql.DB, *redis.Client, ...) are
// expected to be safe for concurrent use. Close releases the underlying
// resources and is only invoked on registry teardown.
type Handle interface {
	Close() error
}

// Spec carries the address and credentials used to create a handle. Empty
// Username or Password means the value was omitted, typically because it is
// embedded in the address.
type Spec struct {
	Address  string
	Username string
	Password string
}

// Options is an opaque set of connection options forwarded to the connector.
type Options map[string]any

// Clone returns a shallow copy of the option set.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	return maps.Clone(o)
}

// Connector creates connection handles. It stands in for the underlying
// connection-access library and is the only place that talks to a database.
type Connector interface {
	Connect(ctx context.Context, spec Spec, options Options) (Handle, error)
}

// ConnectorFunc adapts a plain function to the Connector interface.
type ConnectorFunc func(ctx context.Context, spec Spec, options Options) (Handle, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, spec Spec, options Options) (Handle, error) {
	return f(ctx, spec, options)
}

// Provider exposes previously registered connection handles by identifier.
type Provider interface {
	Resolve(ctx context.Context, id string) (Handle, error)
}
