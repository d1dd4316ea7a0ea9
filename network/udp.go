package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"
	"github.com/najoast/strand/core"
	"golang.org/x/net/ipv4"
)

// MaxDatagramSize bounds one UDP message.
const MaxDatagramSize = 64 * 1024

// ErrEndpointClosed is returned when sending on a closed UDP endpoint.
var ErrEndpointClosed = errors.New("udp endpoint is closed")

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// udpEndpoint is the socket, receive loop and send queue shared by the
// UDP server, channel and sender. Datagrams are not framed; each one is
// delivered as one message built by notify.
type udpEndpoint struct {
	owner  *core.Service
	exec   *core.Executor
	logger *slog.Logger
	conn   *net.UDPConn
	notify func(core.UDPPacket) core.Message

	mu      sync.Mutex
	pending []datagram
	writing bool

	closed int32 // atomic
	done   chan struct{}
}

func newUDPEndpoint(owner *core.Service, component string, notify func(core.UDPPacket) core.Message) *udpEndpoint {
	return &udpEndpoint{
		owner:  owner,
		exec:   owner.Context().NetExecutor(),
		logger: owner.Logger().With("component", component),
		notify: notify,
		done:   make(chan struct{}),
	}
}

func (e *udpEndpoint) start(conn *net.UDPConn) error {
	e.conn = conn
	if !e.exec.Go(e.receiveLoop) {
		conn.Close()
		return fmt.Errorf("network executor is stopped")
	}
	e.exec.Go(func() {
		select {
		case <-e.exec.Done():
			e.close()
		case <-e.done:
		}
	})
	return nil
}

func (e *udpEndpoint) receiveLoop() {
	e.readLoop(e.conn.ReadFromUDP)
}

// readLoop delivers datagrams until the socket closes. Repeated read
// failures back off so a broken socket does not spin.
func (e *udpEndpoint) readLoop(read func([]byte) (int, *net.UDPAddr, error)) {
	buf := make([]byte, MaxDatagramSize)
	var bo iox.Backoff
	for {
		n, addr, err := read(buf)
		if err != nil {
			if e.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			e.logger.Warn("udp receive failed", "error", err)
			bo.Wait()
			continue
		}
		bo.Reset()
		pkt := core.UDPPacket{
			Addr: addr.IP.String(),
			Port: uint16(addr.Port),
			Data: core.CopyBuffer(buf[:n]),
		}
		core.Dispatch(e.owner, e.owner.ID(), e.notify(pkt))
	}
}

// sendTo writes synchronously. A nil addr uses the connected peer.
func (e *udpEndpoint) sendTo(data []byte, addr *net.UDPAddr) (int, error) {
	if e.isClosed() {
		return 0, ErrEndpointClosed
	}
	if addr == nil {
		return e.conn.Write(data)
	}
	return e.conn.WriteToUDP(data, addr)
}

// asyncSendTo queues a copy of data; queued datagrams go out one at a time.
func (e *udpEndpoint) asyncSendTo(data []byte, addr *net.UDPAddr) error {
	if e.isClosed() {
		return ErrEndpointClosed
	}
	d := datagram{data: append([]byte(nil), data...), addr: addr}

	e.mu.Lock()
	e.pending = append(e.pending, d)
	if e.writing {
		e.mu.Unlock()
		return nil
	}
	e.writing = true
	e.mu.Unlock()

	if !e.exec.Go(e.writeLoop) {
		e.mu.Lock()
		e.writing = false
		e.pending = nil
		e.mu.Unlock()
		return ErrEndpointClosed
	}
	return nil
}

func (e *udpEndpoint) writeLoop() {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 || e.isClosed() {
			e.writing = false
			e.pending = nil
			e.mu.Unlock()
			return
		}
		d := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		if _, err := e.sendTo(d.data, d.addr); err != nil && !e.isClosed() {
			e.logger.Warn("udp send failed", "error", err)
		}
	}
}

func (e *udpEndpoint) isClosed() bool {
	return atomic.LoadInt32(&e.closed) == 1
}

func (e *udpEndpoint) close() {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return
	}
	close(e.done)
	if e.conn != nil {
		e.conn.Close()
	}
}

func (e *udpEndpoint) localAddress() string {
	if e.conn == nil {
		return ""
	}
	return e.conn.LocalAddr().String()
}

func resolveUDP(address string, port uint16) (*net.UDPAddr, error) {
	target := net.JoinHostPort(address, strconv.Itoa(int(port)))
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", target, err)
	}
	return addr, nil
}

// UDPServer receives datagrams on a bound port and reports each one to
// its owner as UDPServerRead.
type UDPServer struct {
	*udpEndpoint
	address string
	port    uint16
}

// NewUDPServer creates a server for address:port. Start binds it.
func NewUDPServer(owner *core.Service, address string, port uint16) *UDPServer {
	s := &UDPServer{address: address, port: port}
	s.udpEndpoint = newUDPEndpoint(owner, "udp_server", func(pkt core.UDPPacket) core.Message {
		return core.UDPServerRead{Server: s, UDPPacket: pkt}
	})
	return s
}

// Start binds the socket with address reuse enabled and begins receiving.
func (s *UDPServer) Start() error {
	target := net.JoinHostPort(s.address, strconv.Itoa(int(s.port)))
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(context.Background(), "udp", target)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", target, err)
	}
	if err := s.start(pc.(*net.UDPConn)); err != nil {
		return err
	}
	s.logger.Info("udp server started", "address", pc.LocalAddr().String())
	return nil
}

// JoinGroup subscribes the socket to an IPv4 multicast group on the
// default interface.
func (s *UDPServer) JoinGroup(group string) error {
	if s.conn == nil {
		return fmt.Errorf("udp server is not started")
	}
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return fmt.Errorf("invalid multicast group: %s", group)
	}
	if err := ipv4.NewPacketConn(s.conn).JoinGroup(nil, &net.UDPAddr{IP: ip}); err != nil {
		return fmt.Errorf("failed to join group %s: %w", group, err)
	}
	return nil
}

// SendTo writes data to address:port synchronously.
func (s *UDPServer) SendTo(data []byte, address string, port uint16) (int, error) {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return 0, err
	}
	return s.sendTo(data, addr)
}

// AsyncSendTo queues data for address:port.
func (s *UDPServer) AsyncSendTo(data []byte, address string, port uint16) error {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return err
	}
	return s.asyncSendTo(data, addr)
}

// LocalAddress returns the bound address.
func (s *UDPServer) LocalAddress() string {
	return s.localAddress()
}

// Close stops receiving and closes the socket.
func (s *UDPServer) Close() {
	s.close()
}

// UDPChannel is a UDP socket connected to one remote endpoint. Replies
// reach the owner as UDPChannelRead.
type UDPChannel struct {
	*udpEndpoint
	remote string
}

// NewUDPChannel connects to host:port and begins receiving.
func NewUDPChannel(owner *core.Service, host string, port uint16) (*UDPChannel, error) {
	target := net.JoinHostPort(host, strconv.Itoa(int(port)))
	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	c := &UDPChannel{remote: raddr.String()}
	c.udpEndpoint = newUDPEndpoint(owner, "udp_channel", func(pkt core.UDPPacket) core.Message {
		return core.UDPChannelRead{Channel: c, UDPPacket: pkt}
	})
	if err := c.start(conn); err != nil {
		return nil, err
	}
	return c, nil
}

// SendTo writes data to the remote synchronously.
func (c *UDPChannel) SendTo(data []byte) (int, error) {
	return c.sendTo(data, nil)
}

// AsyncSendTo queues data for the remote.
func (c *UDPChannel) AsyncSendTo(data []byte) error {
	return c.asyncSendTo(data, nil)
}

// RemoteAddress returns the connected remote address.
func (c *UDPChannel) RemoteAddress() string {
	return c.remote
}

// LocalAddress returns the local socket address.
func (c *UDPChannel) LocalAddress() string {
	return c.localAddress()
}

// Close stops receiving and closes the socket.
func (c *UDPChannel) Close() {
	c.close()
}

// UDPSender sends datagrams to arbitrary endpoints from an ephemeral
// port. Replies reach the owner as UDPSenderRead.
type UDPSender struct {
	*udpEndpoint
}

// NewUDPSender opens an ephemeral socket and begins receiving.
func NewUDPSender(owner *core.Service) (*UDPSender, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to open udp socket: %w", err)
	}

	s := &UDPSender{}
	s.udpEndpoint = newUDPEndpoint(owner, "udp_sender", func(pkt core.UDPPacket) core.Message {
		return core.UDPSenderRead{Sender: s, UDPPacket: pkt}
	})
	if err := s.start(conn); err != nil {
		return nil, err
	}
	return s, nil
}

// SendTo writes data to address:port synchronously.
func (s *UDPSender) SendTo(data []byte, address string, port uint16) (int, error) {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return 0, err
	}
	return s.sendTo(data, addr)
}

// AsyncSendTo queues data for address:port.
func (s *UDPSender) AsyncSendTo(data []byte, address string, port uint16) error {
	addr, err := resolveUDP(address, port)
	if err != nil {
		return err
	}
	return s.asyncSendTo(data, addr)
}

// LocalAddress returns the local socket address.
func (s *UDPSender) LocalAddress() string {
	return s.localAddress()
}

// Close stops receiving and closes the socket.
func (s *UDPSender) Close() {
	s.close()
}
