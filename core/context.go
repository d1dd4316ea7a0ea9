package core

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Context is the runtime shared by every service: the actor executor,
// the network executor, the service registry and read-only settings.
// There is no global state; components receive the Context explicitly.
type Context struct {
	runID  uuid.UUID
	logger *slog.Logger

	exec    *Executor
	netExec *Executor

	// registry, guarded by lock
	lock     SpinLock
	services []*Service
	names    map[string]ServiceID

	settingsMu sync.RWMutex
	settings   map[string]any

	startOnce sync.Once
	stopOnce  sync.Once
}

// ContextOption configures a Context.
type ContextOption func(*contextOptions)

type contextOptions struct {
	threads    int
	netThreads int
	logger     *slog.Logger
}

// WithThreads sets the actor worker count. Zero means NumCPU*2.
func WithThreads(n int) ContextOption {
	return func(o *contextOptions) { o.threads = n }
}

// WithNetThreads sets the network worker count. Zero means NumCPU.
func WithNetThreads(n int) ContextOption {
	return func(o *contextOptions) { o.netThreads = n }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(o *contextOptions) { o.logger = logger }
}

// NewContext creates a runtime. Executors exist immediately so services
// can be created before Start; their tasks run once Start is called.
func NewContext(opts ...ContextOption) *Context {
	o := contextOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.threads <= 0 {
		o.threads = runtime.NumCPU() * 2
	}
	if o.netThreads <= 0 {
		o.netThreads = runtime.NumCPU()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	runID := uuid.New()
	logger := o.logger.With("run_id", runID.String())

	return &Context{
		runID:    runID,
		logger:   logger,
		exec:     NewExecutor("actor", o.threads, logger),
		netExec:  NewExecutor("net", o.netThreads, logger),
		names:    make(map[string]ServiceID),
		settings: make(map[string]any),
	}
}

// Start launches the actor workers and the independent network workers.
// threads > 0 overrides the worker count chosen at construction.
func (c *Context) Start(threads int) {
	c.startOnce.Do(func() {
		if threads > 0 {
			c.exec.workers = threads
		}
		c.exec.Run()
		c.netExec.Run()
		c.logger.Info("context started",
			"threads", c.exec.Workers(),
			"net_threads", c.netExec.Workers())
	})
}

// Stop asks both executors to drain and return.
func (c *Context) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("context stopping")
		c.netExec.Stop()
		c.exec.Stop()
	})
}

// Join waits until every worker of both executors has exited.
func (c *Context) Join() {
	c.netExec.Join()
	c.exec.Join()
}

// Done is closed once Stop has been called.
func (c *Context) Done() <-chan struct{} {
	return c.exec.Done()
}

// RunID returns the identifier of this runtime instance.
func (c *Context) RunID() uuid.UUID {
	return c.runID
}

// Logger returns the base logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Executor returns the shared actor executor.
func (c *Context) Executor() *Executor {
	return c.exec
}

// NetExecutor returns the executor reserved for socket I/O.
func (c *Context) NetExecutor() *Executor {
	return c.netExec
}

// Register assigns s a 1-based id. Registering the same service again
// returns the id it already has.
func (c *Context) Register(s *Service) ServiceID {
	if s == nil {
		return 0
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if id := s.ID(); id != 0 {
		return id
	}
	c.services = append(c.services, s)
	id := ServiceID(len(c.services))
	s.id.Store(uint32(id))
	return id
}

// RegisterName binds name to s. A name is bound at most once.
func (c *Context) RegisterName(s *Service, name string) NameStatus {
	if s == nil || s.ID() == 0 {
		return NameNoID
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, exists := c.names[name]; exists {
		return NameConflict
	}
	c.names[name] = s.ID()
	return NameOK
}

// Query returns the live service with the given id, or nil.
func (c *Context) Query(id ServiceID) *Service {
	c.lock.Lock()
	defer c.lock.Unlock()

	if id == 0 || int(id) > len(c.services) {
		return nil
	}
	return c.services[id-1]
}

// QueryName returns the service bound to name, or nil.
func (c *Context) QueryName(name string) *Service {
	c.lock.Lock()
	defer c.lock.Unlock()

	id, ok := c.names[name]
	if !ok || int(id) > len(c.services) {
		return nil
	}
	return c.services[id-1]
}

// Remove destroys s's registration. Its id is never reused; later
// dispatches to it resolve to nothing and are dropped.
func (c *Context) Remove(s *Service) {
	if s == nil {
		return
	}
	id := s.ID()

	c.lock.Lock()
	defer c.lock.Unlock()

	if id == 0 || int(id) > len(c.services) || c.services[id-1] != s {
		return
	}
	c.services[id-1] = nil
	for name, bound := range c.names {
		if bound == id {
			delete(c.names, name)
		}
	}
}

// Services returns the number of registry slots handed out.
func (c *Context) Services() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.services)
}

// SetSettings replaces the free-form per-service settings.
func (c *Context) SetSettings(settings map[string]any) {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()

	if settings == nil {
		settings = make(map[string]any)
	}
	c.settings = settings
}

// Config looks up a dotted key such as "timer.register_name" in the
// settings and returns def when it is missing.
func (c *Context) Config(key, def string) string {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ConfigInt is Config for integer settings.
func (c *Context) ConfigInt(key string, def int) int {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func (c *Context) lookup(key string) (any, bool) {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()

	if v, ok := c.settings[key]; ok {
		return v, true
	}

	var cur any = c.settings
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
