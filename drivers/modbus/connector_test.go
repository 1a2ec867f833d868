package modbus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/timzifer/connreg/runtime/connections"
)

func TestConnectRequiresAddress(t *testing.T) {
	if _, err := NewConnector().Connect(context.Background(), connections.Spec{}, nil); err == nil {
		t.Fatal("expected error for missing address")
	}
}

func TestConnectDialsAndConfigures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	connected := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		close(connected)
		conn.Close()
	}()

	handle, err := NewConnector().Connect(context.Background(),
		connections.Spec{Address: "modbus://" + ln.Addr().String()},
		connections.Options{"unit_id": 17, "idle_timeout": "30s"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		if err := handle.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("expected connection to be established")
	}

	client, ok := handle.(*Client)
	if !ok {
		t.Fatalf("expected *Client, got %T", handle)
	}
	if client.handler.Address != ln.Addr().String() {
		t.Fatalf("unexpected address %q", client.handler.Address)
	}
	if client.handler.SlaveId != 17 {
		t.Fatalf("unexpected slave id: got %d want 17", client.handler.SlaveId)
	}
	if client.handler.Timeout != defaultTimeout {
		t.Fatalf("unexpected timeout: got %s want %s", client.handler.Timeout, defaultTimeout)
	}
	if client.handler.IdleTimeout != 30*time.Second {
		t.Fatalf("unexpected idle timeout: got %s", client.handler.IdleTimeout)
	}
}

func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}

	if _, err := NewConnector().Connect(context.Background(), connections.Spec{Address: addr}, connections.Options{"timeout": 0.5}); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestConnectSkipPingDefersDial(t *testing.T) {
	handle, err := NewConnector().Connect(context.Background(), connections.Spec{Address: "127.0.0.1:1"}, connections.Options{"skip_ping": true, "timeout": 2})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	client := handle.(*Client)
	if client.handler.Timeout != 2*time.Second {
		t.Fatalf("unexpected timeout %s", client.handler.Timeout)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestConnectRejectsInvalidOptions(t *testing.T) {
	if _, err := NewConnector().Connect(context.Background(), connections.Spec{Address: "127.0.0.1:502"}, connections.Options{"unit_id": "many"}); err == nil {
		t.Fatal("expected error for invalid unit_id")
	}
}
