package network

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// NetworkConfig configures a TCP server or channel
type NetworkConfig struct {
	// Address is the listening address
	Address string

	// Port is the listening port; 0 picks a free port
	Port int

	// KeepAlive enables TCP keep-alive
	KeepAlive bool

	// KeepAliveInterval is the keep-alive interval
	KeepAliveInterval time.Duration

	// MaxConnections caps concurrently accepted connections; 0 means no cap
	MaxConnections int

	// MaxSessions is the size of the session id pool
	MaxSessions int

	// ReadTimeout bounds the wait for each frame; 0 disables it
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write; 0 disables it
	WriteTimeout time.Duration

	// DialTimeout bounds outbound connects; 0 means the OS default
	DialTimeout time.Duration
}

// DefaultNetworkConfig returns a default network configuration
func DefaultNetworkConfig() *NetworkConfig {
	return &NetworkConfig{
		Address:           "0.0.0.0",
		Port:              8080,
		KeepAlive:         true,
		KeepAliveInterval: 60 * time.Second,
		MaxConnections:    1000,
		MaxSessions:       MaxSessions,
		DialTimeout:       10 * time.Second,
	}
}

// Validate checks the configuration
func (c *NetworkConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}
	if c.MaxSessions <= 0 || c.MaxSessions > MaxSessions {
		return fmt.Errorf("invalid max sessions: %d (limit %d)", c.MaxSessions, MaxSessions)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max connections: %d", c.MaxConnections)
	}
	return nil
}

// HostPort returns the configured "address:port"
func (c *NetworkConfig) HostPort() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

func (c *NetworkConfig) keepAlive() time.Duration {
	if !c.KeepAlive {
		return -1
	}
	return c.KeepAliveInterval
}
