package network

import (
	"errors"
	"net"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/najoast/strand/core"
)

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New("session is closed")

// Session is one accepted connection of a TCPServer. It reads frames in
// a loop and reports each body to the server's owner.
type Session struct {
	id        uint32
	server    *TCPServer
	conn      net.Conn
	createdAt time.Time

	// incremented by every closer; only the first one acts
	closing atomix.Uint32
	writes  writeQueue
}

func newSession(id uint32, server *TCPServer, conn net.Conn) *Session {
	return &Session{
		id:        id,
		server:    server,
		conn:      conn,
		createdAt: time.Now(),
	}
}

// ID returns the session id.
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// CreatedAt returns the accept time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	return s.closing.Add(0) != 0
}

// Send queues data as one frame.
func (s *Session) Send(data []byte) error {
	start, ok := s.writes.push(AppendFrame(make([]byte, 0, HeaderLength+len(data)), data))
	if !ok {
		return ErrSessionClosed
	}
	if start && !s.server.exec.Go(s.writeLoop) {
		s.writes.abandon()
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) writeLoop() {
	if err := s.writes.drain(s.conn, s.server.config.WriteTimeout); err != nil {
		s.fail(err)
	}
}

// readLoop runs header then body reads until the connection fails.
func (s *Session) readLoop() {
	f := &Frame{}
	timeout := s.server.config.ReadTimeout
	for {
		if timeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		if err := f.ReadFrom(s.conn); err != nil {
			s.fail(err)
			return
		}
		s.server.notifyRead(s.id, core.CopyBuffer(f.Body()))
	}
}

// markClosed reports whether the caller is the first to close.
func (s *Session) markClosed() bool {
	return s.closing.Add(1) == 1
}

// fail closes the session after an I/O or protocol error. The id goes
// back to the pool on the owner's strand, after its Closed handler ran, so
// an owner still holding the id can never close a newer session with it.
func (s *Session) fail(err error) {
	if !s.markClosed() {
		return
	}
	s.writes.close()
	s.conn.Close()
	s.server.notifyClosed(s.id, err.Error())
	if !s.server.owner.Post(func() { s.server.removeSession(s) }) {
		s.server.removeSession(s)
	}
}

// close shuts the session down without notifying the owner.
func (s *Session) close() {
	if !s.markClosed() {
		return
	}
	s.release()
}

func (s *Session) release() {
	s.writes.close()
	s.conn.Close()
	s.server.removeSession(s)
}
