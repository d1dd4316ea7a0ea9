package network

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/najoast/strand/core"
)

// newEchoServer starts a TCP server that echoes every frame.
func newEchoServer(t *testing.T, ctx *core.Context) *TCPServer {
	t.Helper()
	owner := core.NewService(ctx, "")
	core.On(owner, func(from core.ServiceID, m core.Read) {
		m.Server.(*TCPServer).Send(m.Session, m.Data.Take())
	})
	return startServer(t, owner, testConfig())
}

func newChannelRecorder(t *testing.T, ctx *core.Context) (*core.Service, chan event) {
	t.Helper()
	svc := core.NewService(ctx, "")
	events := make(chan event, 64)
	core.On(svc, func(from core.ServiceID, m core.ChannelConnected) {
		events <- event{kind: "connected"}
	})
	core.On(svc, func(from core.ServiceID, m core.ChannelRead) {
		events <- event{kind: "read", data: m.Data.String()}
	})
	core.On(svc, func(from core.ServiceID, m core.ChannelClosed) {
		events <- event{kind: "closed", err: m.Err}
	})
	return svc, events
}

func splitAddress(t *testing.T, address string) (string, uint16) {
	t.Helper()
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		t.Fatalf("bad address %q: %v", address, err)
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		t.Fatalf("bad port in %q: %v", address, err)
	}
	return host, uint16(n)
}

func TestChannelConnectReadClose(t *testing.T) {
	ctx := newTestContext(t)
	server := newEchoServer(t, ctx)
	owner, events := newChannelRecorder(t, ctx)

	ch := NewChannel(owner, nil)
	host, port := splitAddress(t, server.LocalAddress())
	if err := ch.Connect(host, port); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer ch.Close()

	expectEvent(t, events, "connected")
	if !ch.IsOpen() {
		t.Error("Channel should be open")
	}
	if err := ch.Connect(host, port); err == nil {
		t.Error("Expected error connecting an open channel")
	}

	if err := ch.Write([]byte("ping")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	ev := expectEvent(t, events, "read")
	if ev.data != "ping" {
		t.Errorf("Expected ping echoed, got %q", ev.data)
	}
	if ch.Messages() != 1 {
		t.Errorf("Expected 1 message, got %d", ch.Messages())
	}

	// Server going away is reported once
	server.Stop()
	ev = expectEvent(t, events, "closed")
	if ev.err == "" {
		t.Error("Expected a close reason")
	}
	expectNoEvent(t, events, 50*time.Millisecond)

	if err := ch.Write([]byte("late")); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}
}

func TestChannelConnectFailure(t *testing.T) {
	ctx := newTestContext(t)
	owner, events := newChannelRecorder(t, ctx)

	// Grab a free port, then release it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	host, port := splitAddress(t, l.Addr().String())
	l.Close()

	ch := NewChannel(owner, nil)
	if err := ch.Connect(host, port); err == nil {
		t.Fatal("Expected connect failure")
	}

	ev := expectEvent(t, events, "closed")
	if ev.err == "" {
		t.Error("Expected a close reason")
	}
	if ch.IsOpen() {
		t.Error("Channel should not be open")
	}
}

func TestChannelAsyncConnectFlushesEarlyWrites(t *testing.T) {
	ctx := newTestContext(t)
	server := newEchoServer(t, ctx)
	owner, events := newChannelRecorder(t, ctx)

	ch := NewChannel(owner, nil)
	defer ch.Close()

	host, port := splitAddress(t, server.LocalAddress())
	ch.AsyncConnect(host, port)
	for i := 0; i < 3; i++ {
		if err := ch.Write([]byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("Failed to queue write: %v", err)
		}
	}

	expectEvent(t, events, "connected")
	for i := 0; i < 3; i++ {
		ev := expectEvent(t, events, "read")
		if ev.data != strconv.Itoa(i) {
			t.Errorf("Expected %d, got %q", i, ev.data)
		}
	}
}

func TestChannelCloseIsSilent(t *testing.T) {
	ctx := newTestContext(t)
	server := newEchoServer(t, ctx)
	owner, events := newChannelRecorder(t, ctx)

	ch := NewChannel(owner, nil)
	host, port := splitAddress(t, server.LocalAddress())
	if err := ch.Connect(host, port); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	expectEvent(t, events, "connected")

	ch.Close()
	ch.Close()
	expectNoEvent(t, events, 50*time.Millisecond)

	waitFor(t, time.Second, func() bool { return server.SessionCount() == 0 })
}
