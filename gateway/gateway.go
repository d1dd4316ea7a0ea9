// Package gateway is the echo gateway boot service. It accepts framed TCP
// sessions and echoes every frame back, echoes UDP datagrams to their
// source and reports its counters to the Logger service on a heartbeat.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/najoast/strand/bootstrap"
	"github.com/najoast/strand/core"
	"github.com/najoast/strand/logger"
	"github.com/najoast/strand/network"
)

// Name is the service name and the boot name the gateway registers as
const Name = "gateway"

const heartbeatToken = 1

// Gateway is the echo gateway component
type Gateway struct {
	app *bootstrap.Application
	svc *core.Service

	tcp *network.TCPServer
	udp *network.UDPServer

	heartbeat core.TimerID
	interval  time.Duration

	frames     atomic.Int64
	datagrams  atomic.Int64
	heartbeats atomic.Int64
	running    atomic.Bool
}

// Factory builds a gateway for a bootstrap registry
func Factory(app *bootstrap.Application) (bootstrap.Component, error) {
	return New(app)
}

// New creates a gateway on the application's runtime. Nothing listens
// until Start.
func New(app *bootstrap.Application) (*Gateway, error) {
	if app == nil || app.Context() == nil {
		return nil, fmt.Errorf("gateway needs a configured application")
	}
	ctx := app.Context()
	return &Gateway{
		app:      app,
		interval: time.Duration(ctx.ConfigInt(Name+".heartbeat_ms", 60000)) * time.Millisecond,
	}, nil
}

// Name returns the component name
func (g *Gateway) Name() string {
	return Name
}

// Start creates the gateway service, binds the TCP listener and, when a
// UDP port is configured, the UDP endpoint
func (g *Gateway) Start(ctx context.Context) error {
	if g.running.Load() {
		return fmt.Errorf("gateway is already running")
	}

	rt := g.app.Context()
	cfg := g.app.Config()
	g.svc = core.NewService(rt, Name)

	tcp, err := network.NewTCPServer(g.svc, bootstrap.NetworkConfig(cfg))
	if err != nil {
		rt.Remove(g.svc)
		return err
	}
	g.tcp = tcp

	if cfg.Network.UDP.Port > 0 {
		g.udp = network.NewUDPServer(g.svc, cfg.Network.UDP.Address, uint16(cfg.Network.UDP.Port))
	}

	g.registerHandlers()

	if err := g.tcp.Start(); err != nil {
		rt.Remove(g.svc)
		return err
	}
	if g.udp != nil {
		if err := g.udp.Start(); err != nil {
			g.tcp.Stop()
			rt.Remove(g.svc)
			return err
		}
		if group := cfg.Network.UDP.Group; group != "" {
			if err := g.udp.JoinGroup(group); err != nil {
				g.udp.Close()
				g.tcp.Stop()
				rt.Remove(g.svc)
				return err
			}
		}
	}

	if t := g.app.Timer(); t != nil && g.interval > 0 {
		g.heartbeat = t.AddTimer(g.interval, g.svc.ID(), heartbeatToken)
	}

	g.running.Store(true)
	logger.Logf(g.svc, slog.LevelInfo, "gateway listening on tcp %s udp %s", g.TCPAddress(), g.UDPAddress())
	return nil
}

func (g *Gateway) registerHandlers() {
	core.On(g.svc, func(from core.ServiceID, m core.Accept) {
		logger.Logf(g.svc, slog.LevelDebug, "session %d accepted from %s", m.Session, g.tcp.RemoteAddress(m.Session))
	})
	core.On(g.svc, func(from core.ServiceID, m core.Read) {
		g.frames.Add(1)
		if err := g.tcp.Send(m.Session, m.Data.Take()); err != nil {
			logger.Logf(g.svc, slog.LevelWarn, "echo to session %d failed: %v", m.Session, err)
		}
	})
	core.On(g.svc, func(from core.ServiceID, m core.Closed) {
		logger.Logf(g.svc, slog.LevelDebug, "session %d closed: %s", m.Session, m.Err)
	})
	core.On(g.svc, func(from core.ServiceID, m core.UDPServerRead) {
		g.datagrams.Add(1)
		if err := g.udp.AsyncSendTo(m.Data.Take(), m.Addr, m.Port); err != nil {
			logger.Logf(g.svc, slog.LevelWarn, "udp echo to %s:%d failed: %v", m.Addr, m.Port, err)
		}
	})
	core.On(g.svc, func(from core.ServiceID, m core.TimerFired) {
		if m.Token != heartbeatToken {
			return
		}
		g.heartbeats.Add(1)
		logger.Log(g.svc, g.tcp.GetStatistics().String())
	})
}

// Stop cancels the heartbeat and closes every socket
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	if t := g.app.Timer(); t != nil && g.heartbeat != 0 {
		t.Cancel(g.heartbeat)
	}
	if g.udp != nil {
		g.udp.Close()
	}
	err := g.tcp.Stop()
	g.app.Context().Remove(g.svc)
	return err
}

// Health reports the counters of a running gateway
func (g *Gateway) Health(ctx context.Context) (bootstrap.HealthStatus, error) {
	if !g.running.Load() {
		return bootstrap.HealthStatus{State: bootstrap.HealthStopped, LastCheck: time.Now()}, nil
	}
	return bootstrap.HealthStatus{
		State:     bootstrap.HealthHealthy,
		LastCheck: time.Now(),
		Data: map[string]interface{}{
			"sessions":  g.tcp.SessionCount(),
			"frames":    g.frames.Load(),
			"datagrams": g.datagrams.Load(),
		},
	}, nil
}

// TCPAddress returns the bound TCP address
func (g *Gateway) TCPAddress() string {
	if g.tcp == nil {
		return ""
	}
	return g.tcp.LocalAddress()
}

// UDPAddress returns the bound UDP address, or "" when UDP is disabled
func (g *Gateway) UDPAddress() string {
	if g.udp == nil {
		return ""
	}
	return g.udp.LocalAddress()
}

// Heartbeats returns how many heartbeats have fired
func (g *Gateway) Heartbeats() int64 {
	return g.heartbeats.Load()
}
