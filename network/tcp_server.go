package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/strand/core"
	"golang.org/x/net/netutil"
)

// ErrSessionNotFound is returned for ids that hold no live session.
var ErrSessionNotFound = errors.New("session not found")

// ErrServerStopped is returned by Start once the server has been stopped.
var ErrServerStopped = errors.New("server is stopped")

const (
	serverIdle int32 = iota
	serverRunning
	serverStopped
)

// TCPServer accepts framed TCP connections on behalf of an owner service.
// Every accepted connection becomes a Session with a recyclable id, and
// the owner learns about it through Accept, Read and Closed messages.
type TCPServer struct {
	owner  *core.Service
	config *NetworkConfig
	exec   *core.Executor
	logger *slog.Logger

	listener net.Listener
	state    int32 // atomic: serverIdle, serverRunning, serverStopped
	done     chan struct{}
	wg       sync.WaitGroup

	// session table, indexed by id
	lock     core.SpinLock
	sessions []*Session
	ids      *IndexPool

	// Statistics
	totalSessions   int64
	currentSessions int64
	totalMessages   int64
	rejected        int64
	startTime       time.Time
}

// NewTCPServer creates a server owned by owner. I/O runs on the owner's
// network executor.
func NewTCPServer(owner *core.Service, config *NetworkConfig) (*TCPServer, error) {
	if owner == nil {
		return nil, fmt.Errorf("tcp server needs an owner service")
	}
	if config == nil {
		config = DefaultNetworkConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &TCPServer{
		owner:    owner,
		config:   config,
		exec:     owner.Context().NetExecutor(),
		logger:   owner.Logger().With("component", "tcp_server"),
		done:     make(chan struct{}),
		sessions: make([]*Session, config.MaxSessions),
		ids:      NewIndexPool(0, uint32(config.MaxSessions)),
	}, nil
}

// Start binds the listening socket and begins accepting. A bind failure
// is returned to the caller. A stopped server cannot be started again.
func (ts *TCPServer) Start() error {
	if !atomic.CompareAndSwapInt32(&ts.state, serverIdle, serverRunning) {
		if atomic.LoadInt32(&ts.state) == serverStopped {
			return ErrServerStopped
		}
		return fmt.Errorf("server is already running")
	}

	address := ts.config.HostPort()
	lc := net.ListenConfig{KeepAlive: ts.config.keepAlive()}
	listener, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		atomic.StoreInt32(&ts.state, serverIdle)
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	if ts.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, ts.config.MaxConnections)
	}

	ts.listener = listener
	ts.startTime = time.Now()

	ts.wg.Add(1)
	if !ts.exec.Go(ts.acceptLoop) {
		ts.wg.Done()
		listener.Close()
		atomic.StoreInt32(&ts.state, serverIdle)
		return fmt.Errorf("network executor is stopped")
	}

	// Tie the server to the runtime's lifetime
	ts.exec.Go(func() {
		select {
		case <-ts.exec.Done():
			ts.Stop()
		case <-ts.done:
		}
	})

	ts.logger.Info("tcp server started", "address", listener.Addr().String())
	return nil
}

// Stop closes the listener and every live session. Owners are not
// notified for sessions closed this way.
func (ts *TCPServer) Stop() error {
	if !atomic.CompareAndSwapInt32(&ts.state, serverRunning, serverStopped) {
		return nil
	}
	close(ts.done)

	if ts.listener != nil {
		ts.listener.Close()
	}
	ts.wg.Wait()

	ts.lock.Lock()
	live := make([]*Session, 0, atomic.LoadInt64(&ts.currentSessions))
	for _, s := range ts.sessions {
		if s != nil {
			live = append(live, s)
		}
	}
	ts.lock.Unlock()

	for _, s := range live {
		s.close()
		ts.removeSession(s)
	}

	ts.logger.Info("tcp server stopped")
	return nil
}

// IsRunning reports whether the server is accepting.
func (ts *TCPServer) IsRunning() bool {
	return atomic.LoadInt32(&ts.state) == serverRunning
}

// Session returns the live session with the given id, or nil.
func (ts *TCPServer) Session(id uint32) *Session {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	if int(id) >= len(ts.sessions) {
		return nil
	}
	return ts.sessions[id]
}

// CloseSession closes a session at the owner's request. It is idempotent
// and does not send a Closed message. After a Closed message the id may
// already belong to a newer session, so owners must not close it again.
func (ts *TCPServer) CloseSession(id uint32) {
	if s := ts.Session(id); s != nil {
		s.close()
	}
}

// Send queues data as one frame on the session.
func (ts *TCPServer) Send(id uint32, data []byte) error {
	s := ts.Session(id)
	if s == nil {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return s.Send(data)
}

// LocalAddress returns the bound listening address.
func (ts *TCPServer) LocalAddress() string {
	if ts.listener == nil {
		return ""
	}
	return ts.listener.Addr().String()
}

// Address returns the configured listening address.
func (ts *TCPServer) Address() string {
	return ts.config.HostPort()
}

// RemoteAddress returns the peer address of a session.
func (ts *TCPServer) RemoteAddress(id uint32) string {
	s := ts.Session(id)
	if s == nil {
		return ""
	}
	return s.RemoteAddr().String()
}

// SessionCount returns the number of live sessions.
func (ts *TCPServer) SessionCount() int {
	return int(atomic.LoadInt64(&ts.currentSessions))
}

// GetStatistics returns server statistics
func (ts *TCPServer) GetStatistics() ServerStatistics {
	return ServerStatistics{
		Address:         ts.LocalAddress(),
		Running:         ts.IsRunning(),
		StartTime:       ts.startTime,
		Uptime:          time.Since(ts.startTime),
		TotalSessions:   atomic.LoadInt64(&ts.totalSessions),
		CurrentSessions: atomic.LoadInt64(&ts.currentSessions),
		TotalMessages:   atomic.LoadInt64(&ts.totalMessages),
		Rejected:        atomic.LoadInt64(&ts.rejected),
	}
}

// acceptLoop accepts incoming connections
func (ts *TCPServer) acceptLoop() {
	defer ts.wg.Done()

	for {
		conn, err := ts.listener.Accept()
		if err != nil {
			if !ts.IsRunning() || errors.Is(err, net.ErrClosed) {
				return
			}
			ts.logger.Warn("failed to accept connection", "error", err)
			time.Sleep(5 * time.Millisecond)
			continue
		}

		ts.createSession(conn)
	}
}

func (ts *TCPServer) createSession(conn net.Conn) {
	ts.lock.Lock()
	id := ts.ids.Get()
	if id == InvalidIndex {
		ts.lock.Unlock()
		atomic.AddInt64(&ts.rejected, 1)
		ts.logger.Warn("session ids exhausted, rejecting connection",
			"remote", conn.RemoteAddr().String())
		conn.Close()
		return
	}
	s := newSession(id, ts, conn)
	ts.sessions[id] = s
	ts.lock.Unlock()

	atomic.AddInt64(&ts.totalSessions, 1)
	atomic.AddInt64(&ts.currentSessions, 1)

	core.Dispatch(ts.owner, ts.owner.ID(), core.Accept{Server: ts, Session: id})

	if !ts.exec.Go(s.readLoop) {
		s.close()
	}
}

// removeSession frees the slot and id, unless the slot already moved on.
func (ts *TCPServer) removeSession(s *Session) {
	ts.lock.Lock()
	if ts.sessions[s.id] != s {
		ts.lock.Unlock()
		return
	}
	ts.sessions[s.id] = nil
	ts.ids.Put(s.id)
	ts.lock.Unlock()

	atomic.AddInt64(&ts.currentSessions, -1)
}

func (ts *TCPServer) notifyRead(id uint32, data *core.Buffer) {
	atomic.AddInt64(&ts.totalMessages, 1)
	core.Dispatch(ts.owner, ts.owner.ID(), core.Read{Server: ts, Session: id, Data: data})
}

func (ts *TCPServer) notifyClosed(id uint32, reason string) {
	core.Dispatch(ts.owner, ts.owner.ID(), core.Closed{Server: ts, Session: id, Err: reason})
}

// ServerStatistics holds statistics for a server
type ServerStatistics struct {
	Address         string        `json:"address"`
	Running         bool          `json:"running"`
	StartTime       time.Time     `json:"start_time"`
	Uptime          time.Duration `json:"uptime"`
	TotalSessions   int64         `json:"total_sessions"`
	CurrentSessions int64         `json:"current_sessions"`
	TotalMessages   int64         `json:"total_messages"`
	Rejected        int64         `json:"rejected"`
}

// String returns the string representation of server statistics
func (ss ServerStatistics) String() string {
	return fmt.Sprintf("Server[%s] Running=%t Uptime=%s Sessions=%d/%d Messages=%d Rejected=%d",
		ss.Address, ss.Running, ss.Uptime.Truncate(time.Second),
		ss.CurrentSessions, ss.TotalSessions, ss.TotalMessages, ss.Rejected)
}
