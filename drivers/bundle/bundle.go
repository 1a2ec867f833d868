package bundle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/connreg/drivers/canstream"
	"github.com/timzifer/connreg/drivers/modbus"
	"github.com/timzifer/connreg/drivers/mongo"
	"github.com/timzifer/connreg/drivers/mqtt"
	"github.com/timzifer/connreg/drivers/redis"
	"github.com/timzifer/connreg/drivers/sqldb"
	"github.com/timzifer/connreg/runtime/connections"
)

// route binds an address prefix to a connector. URL routes receive
// "scheme://..." addresses whole; every other address reaches the driver
// with the "prefix:" part stripped.
type route struct {
	connector connections.Connector
	url       bool
}

// Dispatcher routes Connect calls to a driver chosen by the address prefix,
// the text before the first ':', similar to how PDO selects a driver from
// its DSN.
type Dispatcher struct {
	routes    map[string]route
	logger    zerolog.Logger
	overrides []override
}

type override struct {
	prefix    string
	connector connections.Connector
}

var _ connections.Connector = (*Dispatcher)(nil)

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithConnector adds or replaces the connector used for the given prefix.
// Addresses of the form "prefix://..." are passed to it unchanged. A nil
// connector removes the route.
func WithConnector(prefix string, connector connections.Connector) Option {
	return func(d *Dispatcher) {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix == "" {
			return
		}
		d.overrides = append(d.overrides, override{prefix: prefix, connector: connector})
	}
}

// WithLogger sets the logger handed to bundled drivers that report
// connection events after Connect returns.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New returns a dispatcher with every bundled driver registered.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.routes = bundledRoutes(d.logger)
	for _, o := range d.overrides {
		if o.connector == nil {
			delete(d.routes, o.prefix)
			continue
		}
		d.routes[o.prefix] = route{connector: o.connector, url: true}
	}
	d.overrides = nil
	return d
}

func bundledRoutes(logger zerolog.Logger) map[string]route {
	sqlite := route{connector: mustSQL(sqldb.SQLite)}
	pgx := mustSQL(sqldb.PGX)
	mongoRoute := route{connector: mongo.NewConnector(), url: true}
	redisRoute := route{connector: redis.NewConnector(), url: true}
	mqttRoute := route{connector: mqtt.NewConnector(logger), url: true}
	return map[string]route{
		"sqlite":      sqlite,
		"sqlite3":     sqlite,
		"mysql":       {connector: mustSQL(sqldb.MySQL)},
		"pgx":         {connector: pgx},
		"postgres":    {connector: pgx, url: true},
		"postgresql":  {connector: pgx, url: true},
		"pq":          {connector: mustSQL(sqldb.PQ)},
		"mongodb":     mongoRoute,
		"mongodb+srv": mongoRoute,
		"redis":       redisRoute,
		"rediss":      redisRoute,
		"mqtt":        mqttRoute,
		"mqtts":       mqttRoute,
		"modbus":      {connector: modbus.NewConnector(), url: true},
		"canstream":   {connector: canstream.NewConnector(), url: true},
	}
}

// Prefixes lists the registered address prefixes in sorted order.
func (d *Dispatcher) Prefixes() []string {
	prefixes := make([]string, 0, len(d.routes))
	for prefix := range d.routes {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes
}

// Connect forwards to the connector registered for the address prefix.
func (d *Dispatcher) Connect(ctx context.Context, spec connections.Spec, options connections.Options) (connections.Handle, error) {
	prefix, rest, err := Split(spec.Address)
	if err != nil {
		return nil, err
	}
	r, ok := d.routes[prefix]
	if !ok {
		return nil, fmt.Errorf("no driver registered for prefix %q", prefix)
	}
	routed := spec
	routed.Address = rest
	if r.url && strings.HasPrefix(rest, "//") {
		routed.Address = strings.TrimSpace(spec.Address)
	}
	return r.connector.Connect(ctx, routed, options)
}

// Split separates the lower-cased driver prefix from the rest of an address.
func Split(address string) (string, string, error) {
	trimmed := strings.TrimSpace(address)
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", "", fmt.Errorf("address %q has no driver prefix", address)
	}
	return strings.ToLower(trimmed[:idx]), trimmed[idx+1:], nil
}

func mustSQL(driver string) *sqldb.Connector {
	connector, err := sqldb.New(driver)
	if err != nil {
		panic(err)
	}
	return connector
}
