package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/connreg/runtime/connections"
)

func TestClientOptionsApplySpecCredentials(t *testing.T) {
	opts := clientOptions(connections.Spec{
		Address:  "mongodb://db.internal:27017",
		Username: "alice",
		Password: "secret",
	}, Settings{Timeout: 2 * time.Second, AppName: "connreg", MaxPoolSize: 8, AuthSource: "admin"})

	require.NoError(t, opts.Validate())
	require.NotNil(t, opts.Auth)
	require.Equal(t, "alice", opts.Auth.Username)
	require.Equal(t, "secret", opts.Auth.Password)
	require.Equal(t, "admin", opts.Auth.AuthSource)
	require.Equal(t, 2*time.Second, *opts.ConnectTimeout)
	require.Equal(t, "connreg", *opts.AppName)
	require.Equal(t, uint64(8), *opts.MaxPoolSize)
}

func TestClientOptionsKeepURICredentialsWithoutUsername(t *testing.T) {
	opts := clientOptions(connections.Spec{Address: "mongodb://root:pw@db.internal:27017"}, Settings{})
	require.NoError(t, opts.Validate())
	require.NotNil(t, opts.Auth)
	require.Equal(t, "root", opts.Auth.Username)
	require.Equal(t, "pw", opts.Auth.Password)
}

func TestConnectRejectsInvalidURI(t *testing.T) {
	_, err := NewConnector().Connect(context.Background(), connections.Spec{Address: "not-a-mongo-uri"}, nil)
	require.Error(t, err)
}

func TestConnectSkipPingReturnsClient(t *testing.T) {
	handle, err := NewConnector().Connect(context.Background(), connections.Spec{Address: "mongodb://127.0.0.1:1"}, connections.Options{"skip_ping": true})
	require.NoError(t, err)
	client, ok := handle.(*Client)
	require.True(t, ok)
	require.NotNil(t, client.Client)
	require.NoError(t, client.Close())
}

func TestConnectPingFailsFast(t *testing.T) {
	_, err := NewConnector().Connect(context.Background(), connections.Spec{Address: "mongodb://127.0.0.1:1"}, connections.Options{"timeout": "200ms"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "mongo: ping")
}

func TestNilClientCloseIsSafe(t *testing.T) {
	var client *Client
	require.NoError(t, client.Close())
}
