package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/timzifer/connreg/runtime/connections"
)

// Supported database/sql drivers.
const (
	MySQL  = "mysql"
	PGX    = "pgx"
	PQ     = "pq"
	SQLite = "sqlite"
)

// Connector opens *sql.DB handles for a single database/sql driver.
type Connector struct {
	driver string
}

var _ connections.Connector = (*Connector)(nil)

// New returns a connector for the named driver.
func New(driver string) (*Connector, error) {
	switch driver {
	case MySQL, PGX, PQ, SQLite:
		return &Connector{driver: driver}, nil
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", driver)
	}
}

// Driver returns the database/sql driver the connector opens.
func (c *Connector) Driver() string {
	return c.driver
}

// Connect opens the database and, unless skip_ping is set, verifies it with a
// ping so that bad credentials surface here rather than on first query.
func (c *Connector) Connect(ctx context.Context, spec connections.Spec, options connections.Options) (connections.Handle, error) {
	settings, err := decodeSettings(options)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.driver, err)
	}
	db, err := c.open(spec, settings)
	if err != nil {
		return nil, err
	}
	settings.apply(db)

	if settings.SkipPing {
		return db, nil
	}
	pingCtx := ctx
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", c.driver, err)
	}
	return db, nil
}

func (c *Connector) open(spec connections.Spec, settings Settings) (*sql.DB, error) {
	switch c.driver {
	case MySQL:
		cfg, err := mysqlConfig(spec, settings)
		if err != nil {
			return nil, err
		}
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		return sql.OpenDB(connector), nil
	case PGX:
		cfg, err := pgxConfig(spec, settings)
		if err != nil {
			return nil, err
		}
		return stdlib.OpenDB(*cfg), nil
	case PQ:
		dsn, err := pqDSN(spec, settings)
		if err != nil {
			return nil, err
		}
		connector, err := pq.NewConnector(dsn)
		if err != nil {
			return nil, fmt.Errorf("pq: %w", err)
		}
		return sql.OpenDB(connector), nil
	case SQLite:
		db, err := sql.Open("sqlite", spec.Address)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", c.driver)
	}
}
