package mqtt

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-co/mqtt/server"
	"github.com/mochi-co/mqtt/server/listeners"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/connreg/runtime/connections"
)

func TestBrokerURL(t *testing.T) {
	cases := map[string]string{
		"mqtt://broker:1883":  "tcp://broker:1883",
		"mqtts://broker:8883": "ssl://broker:8883",
		"ws://broker:80/mqtt": "ws://broker:80/mqtt",
		"broker:1883":         "tcp://broker:1883",
	}
	for address, want := range cases {
		got, err := brokerURL(address)
		require.NoError(t, err, address)
		require.Equal(t, want, got, address)
	}
	_, err := brokerURL(" ")
	require.Error(t, err)
}

func TestClientOptionsUseSpecCredentials(t *testing.T) {
	clean := false
	opts, err := clientOptions(
		connections.Spec{Address: "mqtt://broker:1883", Username: "device", Password: "secret"},
		Settings{ClientID: "connreg-1", CleanSession: &clean, KeepAlive: 15 * time.Second, Timeout: 3 * time.Second},
		zerolog.Nop(), nil)
	require.NoError(t, err)
	require.Len(t, opts.Servers, 1)
	require.Equal(t, "tcp://broker:1883", opts.Servers[0].String())
	require.Equal(t, "device", opts.Username)
	require.Equal(t, "secret", opts.Password)
	require.Equal(t, "connreg-1", opts.ClientID)
	require.False(t, opts.CleanSession)
	require.Equal(t, int64(15), opts.KeepAlive)
	require.Equal(t, 3*time.Second, opts.ConnectTimeout)
}

func TestClientOptionsRejectIncompleteClientCertificate(t *testing.T) {
	_, err := clientOptions(connections.Spec{Address: "mqtts://broker:8883"},
		Settings{TLS: &TLSSettings{Enabled: true, CertFile: "client.pem"}}, zerolog.Nop(), nil)
	require.ErrorContains(t, err, "cert_file and key_file")
}

func TestConnectDecodesNestedTLSOptions(t *testing.T) {
	_, err := NewConnector(zerolog.Nop()).Connect(context.Background(),
		connections.Spec{Address: "mqtts://broker:8883"},
		connections.Options{"tls": map[string]any{"enabled": true, "ca_file": "/does/not/exist.pem"}})
	require.ErrorContains(t, err, "read ca file")
}

func TestConnectToBroker(t *testing.T) {
	broker := startMockBroker(t)

	handle, err := NewConnector(zerolog.Nop()).Connect(context.Background(),
		connections.Spec{Address: broker, Username: "device", Password: "secret"},
		connections.Options{"client_id": "connreg-test", "timeout": 5})
	require.NoError(t, err)
	client, ok := handle.(*Client)
	require.True(t, ok)
	require.True(t, client.Client().IsConnected())

	called := make(chan struct{}, 1)
	remove := client.AddOnConnect(func(mqtt.Client) { called <- struct{}{} })
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("expected OnConnect handler to run for a connected client")
	}
	remove()

	require.NoError(t, client.Close())
	require.False(t, client.Client().IsConnected())
}

func TestConnectFailsWithoutBroker(t *testing.T) {
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	_, err := NewConnector(zerolog.Nop()).Connect(context.Background(), connections.Spec{Address: "mqtt://" + addr}, connections.Options{"timeout": 1})
	require.Error(t, err)
}

func TestConnectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	_, err := NewConnector(zerolog.Nop()).Connect(ctx, connections.Spec{Address: "mqtt://" + addr}, nil)
	require.Error(t, err)
}

func TestNilClientCloseIsSafe(t *testing.T) {
	var client *Client
	require.NoError(t, client.Close())
	require.Nil(t, client.Client())
}

func startMockBroker(t *testing.T) string {
	t.Helper()

	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	server := mqttserver.NewServer(nil)
	if err := server.AddListener(listeners.NewTCP("test", addr), nil); err != nil {
		t.Fatalf("add listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("serve: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return "mqtt://" + addr
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("broker at %s did not start", addr)
	return ""
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
