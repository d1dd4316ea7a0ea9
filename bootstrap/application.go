package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/najoast/strand/config"
	"github.com/najoast/strand/core"
	"github.com/najoast/strand/logger"
	"github.com/najoast/strand/network"
	"github.com/najoast/strand/timer"
)

// Names of the mandatory components, in start order
const (
	LoggerComponent = "logger"
	TimerComponent  = "timer"
	BootComponent   = "boot"
)

// Application owns a runtime and the components running on it
type Application struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *Registry
	lifecycle *LifecycleManager

	ctx        *core.Context
	logService *logger.Service
	timer      *timer.Timer

	// mutex protects concurrent access
	mutex sync.RWMutex

	// running indicates if the application is running
	running bool

	// shutdownChan for graceful shutdown
	shutdownChan chan os.Signal
}

// NewApplication creates an application that logs to logger, or to the
// default logger when it is nil
func NewApplication(logger *slog.Logger) *Application {
	if logger == nil {
		logger = slog.Default()
	}
	return &Application{
		logger:       logger,
		registry:     NewRegistry(),
		lifecycle:    NewLifecycleManager(logger),
		shutdownChan: make(chan os.Signal, 1),
	}
}

// Configure builds the runtime from cfg and registers the logger, timer
// and boot components
func (app *Application) Configure(cfg *config.Config) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return fmt.Errorf("cannot configure application while running")
	}
	if app.ctx != nil {
		return fmt.Errorf("application is already configured")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	app.cfg = cfg
	app.ctx = core.NewContext(
		core.WithThreads(cfg.Runtime.Threads),
		core.WithNetThreads(cfg.Runtime.NetThreads),
		core.WithLogger(app.logger),
	)
	app.ctx.SetSettings(cfg.Settings())

	if cfg.Runtime.ShutdownTimeout > 0 {
		app.lifecycle.SetTimeout(cfg.Runtime.ShutdownTimeout)
	}

	if err := app.lifecycle.Register(LoggerComponent, &loggerComponent{app: app}); err != nil {
		return err
	}
	if err := app.lifecycle.Register(TimerComponent, &timerComponent{app: app}, LoggerComponent); err != nil {
		return err
	}
	return app.lifecycle.Register(BootComponent, &bootComponent{app: app}, TimerComponent)
}

// Run starts the runtime and the components, then blocks until a signal
// arrives, ctx is cancelled or the runtime is stopped
func (app *Application) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.ctx == nil {
		app.mutex.Unlock()
		return fmt.Errorf("application is not configured")
	}
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	app.mutex.Unlock()

	app.ctx.Start(0)

	if err := app.lifecycle.Start(ctx); err != nil {
		app.stopRuntime(app.shutdownTimeout())
		app.setRunning(false)
		return err
	}

	app.logger.Info("application started",
		"name", app.cfg.App.Name,
		"version", app.cfg.App.Version,
		"boot", app.BootName())

	// Setup signal handling for graceful shutdown
	signal.Notify(app.shutdownChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(app.shutdownChan)

	select {
	case sig := <-app.shutdownChan:
		app.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		app.logger.Info("context cancelled, shutting down")
	case <-app.ctx.Done():
		app.logger.Info("runtime stopped, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout())
	defer cancel()
	return app.Shutdown(shutdownCtx)
}

// Shutdown stops the components in reverse order, then the runtime
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.RLock()
	running := app.running
	app.mutex.RUnlock()

	if !running {
		return nil
	}

	err := app.lifecycle.Stop(ctx)

	timeout := app.shutdownTimeout()
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !app.stopRuntime(timeout) {
		app.logger.Warn("runtime did not stop in time", "timeout", timeout)
	}

	app.setRunning(false)
	app.logger.Info("application stopped")
	return err
}

// stopRuntime stops the Context and waits for its workers, giving up
// after timeout
func (app *Application) stopRuntime(timeout time.Duration) bool {
	app.ctx.Stop()

	joined := make(chan struct{})
	go func() {
		app.ctx.Join()
		close(joined)
	}()

	select {
	case <-joined:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (app *Application) setRunning(running bool) {
	app.mutex.Lock()
	app.running = running
	app.mutex.Unlock()
}

func (app *Application) shutdownTimeout() time.Duration {
	if app.cfg != nil && app.cfg.Runtime.ShutdownTimeout > 0 {
		return app.cfg.Runtime.ShutdownTimeout
	}
	return 30 * time.Second
}

// IsRunning reports whether Run is in progress
func (app *Application) IsRunning() bool {
	app.mutex.RLock()
	defer app.mutex.RUnlock()

	return app.running
}

// Context returns the runtime, or nil before Configure
func (app *Application) Context() *core.Context {
	return app.ctx
}

// Config returns the configuration passed to Configure
func (app *Application) Config() *config.Config {
	return app.cfg
}

// Logger returns the process logger
func (app *Application) Logger() *slog.Logger {
	return app.logger
}

// Timer returns the timer service once it has started
func (app *Application) Timer() *timer.Timer {
	app.mutex.RLock()
	defer app.mutex.RUnlock()

	return app.timer
}

// Registry returns the boot factory registry
func (app *Application) Registry() *Registry {
	return app.registry
}

// Lifecycle returns the lifecycle manager
func (app *Application) Lifecycle() *LifecycleManager {
	return app.lifecycle
}

// BootName returns the name of the configured boot service
func (app *Application) BootName() string {
	if app.ctx == nil {
		return ""
	}
	return app.ctx.Config("boot", "launcher")
}

// NetworkConfig converts the TCP section of cfg for network.NewTCPServer
func NetworkConfig(cfg *config.Config) *network.NetworkConfig {
	tcp := cfg.Network.TCP
	return &network.NetworkConfig{
		Address:           tcp.Address,
		Port:              tcp.Port,
		KeepAlive:         tcp.KeepAlive,
		KeepAliveInterval: tcp.KeepAliveInterval,
		MaxConnections:    tcp.MaxConnections,
		MaxSessions:       tcp.MaxSessions,
		ReadTimeout:       cfg.Network.Timeouts.Read,
		WriteTimeout:      cfg.Network.Timeouts.Write,
		DialTimeout:       cfg.Network.Timeouts.Dial,
	}
}

// loggerComponent runs the Logger service
type loggerComponent struct {
	app *Application
	svc *logger.Service
}

func (c *loggerComponent) Name() string {
	return LoggerComponent
}

func (c *loggerComponent) Start(ctx context.Context) error {
	svc, err := logger.NewService(c.app.ctx, LoggerComponent, c.app.logger)
	if err != nil {
		return err
	}
	c.svc = svc

	c.app.mutex.Lock()
	c.app.logService = svc
	c.app.mutex.Unlock()
	return nil
}

func (c *loggerComponent) Stop(ctx context.Context) error {
	if c.svc != nil {
		c.svc.Close()
	}
	return nil
}

func (c *loggerComponent) Health(ctx context.Context) (HealthStatus, error) {
	state := HealthHealthy
	if c.svc == nil {
		state = HealthStopped
	}
	return HealthStatus{
		State:     state,
		LastCheck: time.Now(),
	}, nil
}

// timerComponent runs the timer service
type timerComponent struct {
	app   *Application
	timer *timer.Timer
}

func (c *timerComponent) Name() string {
	return TimerComponent
}

func (c *timerComponent) Start(ctx context.Context) error {
	t, err := timer.New(c.app.ctx, TimerComponent)
	if err != nil {
		return err
	}
	c.timer = t

	c.app.mutex.Lock()
	c.app.timer = t
	c.app.mutex.Unlock()
	return nil
}

func (c *timerComponent) Stop(ctx context.Context) error {
	if c.timer != nil {
		c.timer.Stop()
	}
	return nil
}

func (c *timerComponent) Health(ctx context.Context) (HealthStatus, error) {
	if c.timer == nil {
		return HealthStatus{State: HealthStopped, LastCheck: time.Now()}, nil
	}
	return HealthStatus{
		State:     HealthHealthy,
		LastCheck: time.Now(),
		Data:      map[string]interface{}{"live": c.timer.Live()},
	}, nil
}

// bootComponent builds the configured boot service when it starts
type bootComponent struct {
	app   *Application
	inner Component
}

func (c *bootComponent) Name() string {
	if c.inner != nil {
		return c.inner.Name()
	}
	return BootComponent
}

func (c *bootComponent) Start(ctx context.Context) error {
	name := c.app.BootName()
	inner, err := c.app.registry.Create(c.app, name)
	if err != nil {
		return err
	}
	if err := inner.Start(ctx); err != nil {
		return fmt.Errorf("boot service %s: %w", name, err)
	}
	c.inner = inner
	return nil
}

func (c *bootComponent) Stop(ctx context.Context) error {
	if c.inner == nil {
		return nil
	}
	err := c.inner.Stop(ctx)
	c.inner = nil
	return err
}

func (c *bootComponent) Health(ctx context.Context) (HealthStatus, error) {
	if c.inner == nil {
		return HealthStatus{State: HealthStopped, LastCheck: time.Now()}, nil
	}
	return c.inner.Health(ctx)
}
