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
	"time"

	"github.com/najoast/strand/core"
)

// ErrChannelClosed is returned when writing on a closed channel.
var ErrChannelClosed = errors.New("channel is closed")

const (
	channelIdle int32 = iota
	channelConnecting
	channelOpen
	channelClosed
)

// Channel is an outbound framed TCP connection owned by a service. The
// owner receives ChannelConnected, then ChannelRead for every frame, and
// ChannelClosed once if the connection fails.
type Channel struct {
	owner  *core.Service
	config *NetworkConfig
	exec   *core.Executor
	logger *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	address string

	state  int32 // atomic
	writes writeQueue
	done   chan struct{}

	// Statistics
	totalMessages int64
}

// NewChannel creates an unconnected channel owned by owner. The config
// supplies keep-alive and timeouts; its address is not used.
func NewChannel(owner *core.Service, config *NetworkConfig) *Channel {
	if config == nil {
		config = DefaultNetworkConfig()
	}
	return &Channel{
		owner:  owner,
		config: config,
		exec:   owner.Context().NetExecutor(),
		logger: owner.Logger().With("component", "channel"),
		done:   make(chan struct{}),
	}
}

// Connect dials address:port and blocks until the attempt finishes. A
// failure is returned and also reported to the owner as ChannelClosed.
func (c *Channel) Connect(address string, port uint16) error {
	if !atomic.CompareAndSwapInt32(&c.state, channelIdle, channelConnecting) {
		return fmt.Errorf("channel already connecting or connected")
	}
	return c.dial(address, port)
}

// AsyncConnect dials on the network executor. The outcome reaches the
// owner as ChannelConnected or ChannelClosed.
func (c *Channel) AsyncConnect(address string, port uint16) {
	if !atomic.CompareAndSwapInt32(&c.state, channelIdle, channelConnecting) {
		return
	}
	if !c.exec.Go(func() { c.dial(address, port) }) {
		c.fail(ErrChannelClosed)
	}
}

func (c *Channel) dial(address string, port uint16) error {
	target := net.JoinHostPort(address, strconv.Itoa(int(port)))

	dialer := &net.Dialer{
		Timeout:   c.config.DialTimeout,
		KeepAlive: c.config.keepAlive(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.exec.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		err = fmt.Errorf("failed to connect to %s: %w", target, err)
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if !atomic.CompareAndSwapInt32(&c.state, channelConnecting, channelOpen) {
		// closed while dialing
		c.mu.Unlock()
		conn.Close()
		return ErrChannelClosed
	}
	c.conn = conn
	c.address = target
	c.mu.Unlock()

	c.logger.Debug("channel connected", "address", target)
	core.Dispatch(c.owner, c.owner.ID(), core.ChannelConnected{Channel: c})

	if c.writes.claim() && !c.exec.Go(c.writeLoop) {
		c.writes.abandon()
	}
	if !c.exec.Go(c.readLoop) {
		c.Close()
		return nil
	}

	// Tie the connection to the runtime's lifetime
	c.exec.Go(func() {
		select {
		case <-c.exec.Done():
			c.Close()
		case <-c.done:
		}
	})
	return nil
}

// Write queues data as one frame. Data written before the connection is
// established is sent once it is.
func (c *Channel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if atomic.LoadInt32(&c.state) == channelClosed {
		return ErrChannelClosed
	}
	start, ok := c.writes.push(AppendFrame(make([]byte, 0, HeaderLength+len(data)), data))
	if !ok {
		return ErrChannelClosed
	}
	if !start {
		return nil
	}
	if c.conn == nil {
		c.writes.park()
		return nil
	}
	if !c.exec.Go(c.writeLoop) {
		c.writes.abandon()
		return ErrChannelClosed
	}
	return nil
}

// Close shuts the channel down without notifying the owner.
func (c *Channel) Close() {
	if atomic.SwapInt32(&c.state, channelClosed) == channelClosed {
		return
	}
	c.shutdown()
}

// IsOpen reports whether the channel is connected.
func (c *Channel) IsOpen() bool {
	return atomic.LoadInt32(&c.state) == channelOpen
}

// RemoteAddress returns the connected address.
func (c *Channel) RemoteAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// Messages returns the number of frames received.
func (c *Channel) Messages() int64 {
	return atomic.LoadInt64(&c.totalMessages)
}

func (c *Channel) readLoop() {
	f := &Frame{}
	timeout := c.config.ReadTimeout
	for {
		if timeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		if err := f.ReadFrom(c.conn); err != nil {
			c.fail(err)
			return
		}
		atomic.AddInt64(&c.totalMessages, 1)
		core.Dispatch(c.owner, c.owner.ID(), core.ChannelRead{Channel: c, Data: core.CopyBuffer(f.Body())})
	}
}

func (c *Channel) writeLoop() {
	if err := c.writes.drain(c.conn, c.config.WriteTimeout); err != nil {
		c.fail(err)
	}
}

// fail closes the channel and reports err, once.
func (c *Channel) fail(err error) {
	if atomic.SwapInt32(&c.state, channelClosed) == channelClosed {
		return
	}
	c.shutdown()
	core.Dispatch(c.owner, c.owner.ID(), core.ChannelClosed{Channel: c, Err: err.Error()})
}

func (c *Channel) shutdown() {
	close(c.done)
	c.writes.close()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
