package sqldb

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/connreg/runtime/connections"
)

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New("oracle")
	require.Error(t, err)
}

func TestSQLiteConnectAppliesPoolOptions(t *testing.T) {
	connector, err := New(SQLite)
	require.NoError(t, err)
	require.Equal(t, SQLite, connector.Driver())

	handle, err := connector.Connect(context.Background(), connections.Spec{Address: ":memory:"}, connections.Options{
		"max_open_conns": 3,
		"timeout":        2,
	})
	require.NoError(t, err)
	db, ok := handle.(*sql.DB)
	require.True(t, ok)
	t.Cleanup(func() { _ = db.Close() })

	require.Equal(t, 3, db.Stats().MaxOpenConnections)

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	require.Equal(t, 1, one)
}

func TestSQLiteConnectPingFailure(t *testing.T) {
	connector, err := New(SQLite)
	require.NoError(t, err)

	missing := filepath.Join(t.TempDir(), "missing", "app.db")
	_, err = connector.Connect(context.Background(), connections.Spec{Address: missing}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sqlite: ping")
}

func TestConnectRejectsInvalidOptions(t *testing.T) {
	connector, err := New(SQLite)
	require.NoError(t, err)

	_, err = connector.Connect(context.Background(), connections.Spec{Address: ":memory:"}, connections.Options{"timeout": "later"})
	require.Error(t, err)

	_, err = connector.Connect(context.Background(), connections.Spec{Address: ":memory:"}, connections.Options{"max_open_conns": -1})
	require.Error(t, err)
}

func TestMySQLConnectSkipPingDoesNotDial(t *testing.T) {
	connector, err := New(MySQL)
	require.NoError(t, err)

	handle, err := connector.Connect(context.Background(), connections.Spec{
		Address:  "tcp(127.0.0.1:1)/app",
		Username: "alice",
		Password: "secret",
	}, connections.Options{"skip_ping": true, "persistent": false})
	require.NoError(t, err)
	db, ok := handle.(*sql.DB)
	require.True(t, ok)
	require.NoError(t, db.Close())
}

func TestMySQLConnectRejectsMalformedDSN(t *testing.T) {
	connector, err := New(MySQL)
	require.NoError(t, err)

	_, err = connector.Connect(context.Background(), connections.Spec{Address: "tcp(127.0.0.1:3306"}, connections.Options{"skip_ping": true})
	require.Error(t, err)
}

func TestMySQLConfigInjectsCredentials(t *testing.T) {
	cfg, err := mysqlConfig(connections.Spec{
		Address:  "root:ignored@tcp(db.internal:3306)/app?parseTime=true",
		Username: "alice",
		Password: "secret",
	}, Settings{Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "alice", cfg.User)
	require.Equal(t, "secret", cfg.Passwd)
	require.Equal(t, "db.internal:3306", cfg.Addr)
	require.Equal(t, "app", cfg.DBName)
	require.True(t, cfg.ParseTime)
	require.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestMySQLConfigKeepsEmbeddedCredentials(t *testing.T) {
	cfg, err := mysqlConfig(connections.Spec{Address: "root:pw@tcp(db.internal:3306)/app"}, Settings{})
	require.NoError(t, err)
	require.Equal(t, "root", cfg.User)
	require.Equal(t, "pw", cfg.Passwd)
}

func TestPGXConfigInjectsCredentials(t *testing.T) {
	cfg, err := pgxConfig(connections.Spec{
		Address:  "postgres://db.internal:5432/app?sslmode=disable",
		Username: "alice",
		Password: "secret",
	}, Settings{Timeout: 3 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "alice", cfg.User)
	require.Equal(t, "secret", cfg.Password)
	require.Equal(t, "db.internal", cfg.Host)
	require.Equal(t, "app", cfg.Database)
	require.Equal(t, 3*time.Second, cfg.ConnectTimeout)
}

func TestPQDSNAppendsQuotedCredentials(t *testing.T) {
	dsn, err := pqDSN(connections.Spec{
		Address:  "host=db.internal dbname=app",
		Username: "alice",
		Password: `se'cr\et`,
	}, Settings{Timeout: 1500 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, `host=db.internal dbname=app user='alice' password='se\'cr\\et' connect_timeout=2`, dsn)
}

func TestPQDSNConvertsURLs(t *testing.T) {
	dsn, err := pqDSN(connections.Spec{Address: "postgres://db.internal:5432/app", Username: "bob"}, Settings{})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(dsn, "user='bob'"), dsn)
	require.Contains(t, dsn, "host=db.internal")
	require.Contains(t, dsn, "dbname=app")
}

func TestPQConnectSkipPing(t *testing.T) {
	connector, err := New(PQ)
	require.NoError(t, err)

	handle, err := connector.Connect(context.Background(), connections.Spec{Address: "host=127.0.0.1 port=1 dbname=app sslmode=disable", Username: "alice", Password: "secret"}, connections.Options{"skip_ping": true})
	require.NoError(t, err)
	require.NoError(t, handle.Close())
}

func TestPGXConnectSkipPing(t *testing.T) {
	connector, err := New(PGX)
	require.NoError(t, err)

	handle, err := connector.Connect(context.Background(), connections.Spec{Address: "postgres://127.0.0.1:1/app?sslmode=disable", Username: "alice", Password: "secret"}, connections.Options{"skip_ping": true})
	require.NoError(t, err)
	require.NoError(t, handle.Close())
}
