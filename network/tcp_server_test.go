package network

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/najoast/strand/core"
)

type event struct {
	kind    string
	session uint32
	data    string
	err     string
}

// newTestContext starts a runtime that is torn down with the test.
func newTestContext(t *testing.T) *core.Context {
	t.Helper()
	ctx := core.NewContext(core.WithThreads(2), core.WithNetThreads(4))
	ctx.Start(0)
	t.Cleanup(func() {
		ctx.Stop()
		ctx.Join()
	})
	return ctx
}

// newServerRecorder returns a service that logs its server traffic to
// the returned channel.
func newServerRecorder(t *testing.T, ctx *core.Context) (*core.Service, chan event) {
	t.Helper()
	svc := core.NewService(ctx, "")
	events := make(chan event, 64)
	core.On(svc, func(from core.ServiceID, m core.Accept) {
		events <- event{kind: "accept", session: m.Session}
	})
	core.On(svc, func(from core.ServiceID, m core.Read) {
		events <- event{kind: "read", session: m.Session, data: m.Data.String()}
	})
	core.On(svc, func(from core.ServiceID, m core.Closed) {
		events <- event{kind: "closed", session: m.Session, err: m.Err}
	})
	return svc, events
}

func expectEvent(t *testing.T, events <-chan event, kind string) event {
	t.Helper()
	select {
	case ev := <-events:
		if ev.kind != kind {
			t.Fatalf("Expected %s event, got %+v", kind, ev)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s event", kind)
	}
	return event{}
}

func expectNoEvent(t *testing.T, events <-chan event, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("Expected no event, got %+v", ev)
	case <-time.After(wait):
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("bad number %q: %v", s, err)
	}
	return n
}

func testConfig() *NetworkConfig {
	config := DefaultNetworkConfig()
	config.Address = "127.0.0.1"
	config.Port = 0
	return config
}

func startServer(t *testing.T, owner *core.Service, config *NetworkConfig) *TCPServer {
	t.Helper()
	server, err := NewTCPServer(owner, config)
	if err != nil {
		t.Fatalf("Failed to create TCP server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func TestTCPServerLifecycle(t *testing.T) {
	ctx := newTestContext(t)
	owner, _ := newServerRecorder(t, ctx)

	server := startServer(t, owner, testConfig())
	if !server.IsRunning() {
		t.Fatal("Server should be running")
	}
	if server.LocalAddress() == "" {
		t.Fatal("Server should be listening")
	}
	if server.SessionCount() != 0 {
		t.Errorf("Expected 0 sessions, got %d", server.SessionCount())
	}

	if err := server.Start(); err == nil {
		t.Error("Expected error when starting already running server")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if server.IsRunning() {
		t.Error("Server should not be running after stop")
	}
}

func TestTCPServerStartAfterStop(t *testing.T) {
	ctx := newTestContext(t)
	owner, _ := newServerRecorder(t, ctx)

	server := startServer(t, owner, testConfig())
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if err := server.Start(); !errors.Is(err, ErrServerStopped) {
		t.Fatalf("Expected ErrServerStopped, got %v", err)
	}
	if server.IsRunning() {
		t.Error("Server should stay stopped")
	}
	if err := server.Stop(); err != nil {
		t.Errorf("Second stop failed: %v", err)
	}
}

func TestTCPServerRejectsBadConfig(t *testing.T) {
	ctx := newTestContext(t)
	owner, _ := newServerRecorder(t, ctx)

	config := testConfig()
	config.MaxSessions = MaxSessions + 1
	if _, err := NewTCPServer(owner, config); err == nil {
		t.Error("Expected error for oversized session pool")
	}
	if _, err := NewTCPServer(nil, testConfig()); err == nil {
		t.Error("Expected error for missing owner")
	}
}

func TestTCPServerBindFailure(t *testing.T) {
	ctx := newTestContext(t)
	owner, _ := newServerRecorder(t, ctx)

	first := startServer(t, owner, testConfig())
	_, port, _ := net.SplitHostPort(first.LocalAddress())

	config := testConfig()
	config.Port = mustAtoi(t, port)
	second, err := NewTCPServer(owner, config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatal("Expected bind failure on a port in use")
	}
}

func TestTCPServerSessionLifecycle(t *testing.T) {
	ctx := newTestContext(t)
	owner, events := newServerRecorder(t, ctx)
	server := startServer(t, owner, testConfig())

	client, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	ev := expectEvent(t, events, "accept")
	if ev.session != 0 {
		t.Errorf("Expected first session id 0, got %d", ev.session)
	}

	if _, err := client.Write(AppendFrame(nil, []byte("hello"))); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	ev = expectEvent(t, events, "read")
	if ev.session != 0 || ev.data != "hello" {
		t.Errorf("Expected read(0, hello), got %+v", ev)
	}

	client.Close()
	ev = expectEvent(t, events, "closed")
	if ev.session != 0 || ev.err == "" {
		t.Errorf("Expected closed(0) with a reason, got %+v", ev)
	}

	// The id goes back to the pool once the session is released
	waitFor(t, time.Second, func() bool { return server.SessionCount() == 0 })

	again, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to reconnect: %v", err)
	}
	defer again.Close()

	ev = expectEvent(t, events, "accept")
	if ev.session != 0 {
		t.Errorf("Expected recycled session id 0, got %d", ev.session)
	}

	stats := server.GetStatistics()
	if stats.TotalSessions != 2 || stats.TotalMessages != 1 {
		t.Errorf("Unexpected statistics: %s", stats)
	}
}

func TestTCPServerEmptyFrame(t *testing.T) {
	ctx := newTestContext(t)
	owner, events := newServerRecorder(t, ctx)
	server := startServer(t, owner, testConfig())

	client, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	expectEvent(t, events, "accept")

	client.Write(AppendFrame(nil, nil))
	ev := expectEvent(t, events, "read")
	if ev.data != "" {
		t.Errorf("Expected empty body, got %q", ev.data)
	}
}

func TestTCPServerOversizedHeaderClosesSession(t *testing.T) {
	ctx := newTestContext(t)
	owner, events := newServerRecorder(t, ctx)
	server := startServer(t, owner, testConfig())

	client, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	expectEvent(t, events, "accept")

	// 4099 little-endian
	client.Write([]byte{0x03, 0x10})

	ev := expectEvent(t, events, "closed")
	if !strings.Contains(ev.err, ErrInvalidHeader.Error()) {
		t.Errorf("Expected invalid header reason, got %q", ev.err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("Expected the server to close the connection, got %v", err)
	}
}

func TestTCPServerEcho(t *testing.T) {
	ctx := newTestContext(t)
	owner := core.NewService(ctx, "echo")
	core.On(owner, func(from core.ServiceID, m core.Read) {
		m.Server.(*TCPServer).Send(m.Session, m.Data.Take())
	})
	server := startServer(t, owner, testConfig())

	client, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	messages := []string{"first", "second", strings.Repeat("x", MaxBodyLength)}
	for _, msg := range messages {
		client.Write(AppendFrame(nil, []byte(msg)))
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	f := &Frame{}
	for _, want := range messages {
		if err := f.ReadFrom(client); err != nil {
			t.Fatalf("Failed to read echo: %v", err)
		}
		if string(f.Body()) != want {
			t.Errorf("Expected echo of %d bytes, got %d", len(want), f.BodyLength())
		}
	}
}

func TestTCPServerPoolExhaustion(t *testing.T) {
	ctx := newTestContext(t)
	owner, events := newServerRecorder(t, ctx)

	config := testConfig()
	config.MaxSessions = 1
	server := startServer(t, owner, config)

	first, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer first.Close()
	expectEvent(t, events, "accept")

	second, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("Expected rejected connection to be closed, got %v", err)
	}
	waitFor(t, time.Second, func() bool { return server.GetStatistics().Rejected == 1 })

	// The rejected connection never reaches the owner
	expectNoEvent(t, events, 50*time.Millisecond)
	if server.SessionCount() != 1 {
		t.Errorf("Expected 1 session, got %d", server.SessionCount())
	}
}

func TestTCPServerCloseSessionIsSilent(t *testing.T) {
	ctx := newTestContext(t)
	owner, events := newServerRecorder(t, ctx)
	server := startServer(t, owner, testConfig())

	client, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	ev := expectEvent(t, events, "accept")

	server.CloseSession(ev.session)
	server.CloseSession(ev.session)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("Expected connection to be closed, got %v", err)
	}
	expectNoEvent(t, events, 50*time.Millisecond)

	if err := server.Send(ev.session, []byte("late")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestTCPServerStopClosesSessions(t *testing.T) {
	ctx := newTestContext(t)
	owner, events := newServerRecorder(t, ctx)
	server := startServer(t, owner, testConfig())

	client, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	expectEvent(t, events, "accept")

	server.Stop()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("Expected connection to be closed, got %v", err)
	}
	if server.SessionCount() != 0 {
		t.Errorf("Expected 0 sessions after stop, got %d", server.SessionCount())
	}
}

func TestTCPServerHoldsIDUntilOwnerSeesClosed(t *testing.T) {
	ctx := newTestContext(t)
	owner, events := newServerRecorder(t, ctx)
	gate := make(chan struct{})
	core.On(owner, func(from core.ServiceID, m core.Accept) {
		<-gate
	})
	server := startServer(t, owner, testConfig())
	defer func() {
		select {
		case <-gate:
		default:
			close(gate)
		}
	}()

	first, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { return server.GetStatistics().TotalSessions == 1 })
	first.Close()
	// The owner is stuck in its Accept handler, so Closed stays queued
	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", server.LocalAddress())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer second.Close()
	waitFor(t, time.Second, func() bool { return server.GetStatistics().TotalSessions == 2 })

	if n := server.SessionCount(); n != 2 {
		t.Fatalf("Expected id 0 to stay taken until its Closed is handled, got %d sessions", n)
	}
	close(gate)

	if ev := expectEvent(t, events, "accept"); ev.session != 0 {
		t.Errorf("Expected accept(0), got %+v", ev)
	}
	if ev := expectEvent(t, events, "closed"); ev.session != 0 {
		t.Errorf("Expected closed(0), got %+v", ev)
	}
	if ev := expectEvent(t, events, "accept"); ev.session == 0 {
		t.Errorf("Expected the second connection on a fresh id, got %+v", ev)
	}
	waitFor(t, time.Second, func() bool { return server.SessionCount() == 1 })
}

func TestTCPServerSessionIDReuseUnderLoad(t *testing.T) {
	ctx := newTestContext(t)
	owner := core.NewService(ctx, "")

	// live is only touched by handlers, which run one at a time
	live := make(map[uint32]bool)
	var accepts, reused atomic.Int64
	core.On(owner, func(from core.ServiceID, m core.Accept) {
		if live[m.Session] {
			reused.Add(1)
		}
		live[m.Session] = true
		if accepts.Add(1)%2 == 0 {
			m.Server.(*TCPServer).CloseSession(m.Session)
			delete(live, m.Session)
		}
	})
	core.On(owner, func(from core.ServiceID, m core.Read) {})
	core.On(owner, func(from core.ServiceID, m core.Closed) {
		delete(live, m.Session)
	})

	config := testConfig()
	config.MaxSessions = 8
	server := startServer(t, owner, config)

	const (
		clients = 6
		rounds  = 40
	)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				conn, err := net.Dial("tcp", server.LocalAddress())
				if err != nil {
					t.Errorf("client %d: dial failed: %v", i, err)
					return
				}
				conn.Write(AppendFrame(nil, []byte(strconv.Itoa(j))))
				conn.Close()
			}
		}(i)
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool {
		stats := server.GetStatistics()
		return stats.TotalSessions+stats.Rejected == clients*rounds
	})
	waitFor(t, 5*time.Second, func() bool { return server.SessionCount() == 0 })

	remaining := make(chan int, 1)
	owner.Post(func() { remaining <- len(live) })
	select {
	case n := <-remaining:
		if n != 0 {
			t.Errorf("Expected no live ids after every session ended, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Owner did not drain")
	}

	if n := reused.Load(); n != 0 {
		t.Errorf("Accept arrived %d times for an id that was still live", n)
	}
	if accepts.Load() == 0 {
		t.Error("Expected some sessions to be accepted")
	}
}
