package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// LifecycleManager starts components in dependency order and stops them
// in reverse
type LifecycleManager struct {
	components   map[string]Component
	dependencies map[string][]string
	startOrder   []string // running components, oldest first

	logger  *slog.Logger
	timeout time.Duration // per Start/Stop call

	mutex    sync.RWMutex
	started  bool
	stopping bool

	eventChan chan LifecycleEvent
	listeners []func(LifecycleEvent)
}

// NewLifecycleManager returns a manager with a 30s per-component timeout.
func NewLifecycleManager(logger *slog.Logger) *LifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleManager{
		components:   make(map[string]Component),
		dependencies: make(map[string][]string),
		logger:       logger.With("component", "lifecycle"),
		eventChan:    make(chan LifecycleEvent, 100),
		timeout:      30 * time.Second,
	}
}

// Register adds component under name. deps must be started before it.
func (lm *LifecycleManager) Register(name string, component Component, deps ...string) error {
	if name == "" {
		return fmt.Errorf("component name cannot be empty")
	}
	if component == nil {
		return fmt.Errorf("component cannot be nil")
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("cannot register component %s: lifecycle manager already started", name)
	}

	if _, exists := lm.components[name]; exists {
		return fmt.Errorf("component %s is already registered", name)
	}

	lm.components[name] = component
	lm.dependencies[name] = deps

	lm.broadcastEvent(LifecycleEvent{
		Type:      "component.registered",
		Component: name,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"dependencies": deps},
	})

	return nil
}

// Start starts all components in dependency order. If one fails, the
// ones already started are stopped again.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("lifecycle manager already started")
	}

	startOrder, err := lm.calculateStartOrder()
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}

	lm.broadcastEvent(LifecycleEvent{
		Type:      "lifecycle.starting",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"order": startOrder},
	})

	for _, name := range startOrder {
		component := lm.components[name]

		lm.broadcastEvent(LifecycleEvent{
			Type:      "component.starting",
			Component: name,
			Timestamp: time.Now(),
		})

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := component.Start(startCtx)
		cancel()

		if err != nil {
			lm.broadcastEvent(LifecycleEvent{
				Type:      "component.start_failed",
				Component: name,
				Timestamp: time.Now(),
				Error:     err,
			})
			lm.stopStarted(ctx)
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}

		lm.startOrder = append(lm.startOrder, name)
		lm.logger.Debug("component started", "name", name)

		lm.broadcastEvent(LifecycleEvent{
			Type:      "component.started",
			Component: name,
			Timestamp: time.Now(),
		})
	}

	lm.started = true

	lm.broadcastEvent(LifecycleEvent{
		Type:      "lifecycle.started",
		Timestamp: time.Now(),
	})

	return nil
}

// Stop stops the running components, newest first.
func (lm *LifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.started {
		return nil
	}

	if lm.stopping {
		return fmt.Errorf("lifecycle manager already stopping")
	}

	lm.stopping = true

	lm.broadcastEvent(LifecycleEvent{
		Type:      "lifecycle.stopping",
		Timestamp: time.Now(),
	})

	err := lm.stopStarted(ctx)

	lm.started = false
	lm.stopping = false

	lm.broadcastEvent(LifecycleEvent{
		Type:      "lifecycle.stopped",
		Timestamp: time.Now(),
	})

	return err
}

// stopStarted stops what startOrder holds, newest first, and returns the
// last failure.
func (lm *LifecycleManager) stopStarted(ctx context.Context) error {
	var lastError error

	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]
		component := lm.components[name]

		lm.broadcastEvent(LifecycleEvent{
			Type:      "component.stopping",
			Component: name,
			Timestamp: time.Now(),
		})

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := component.Stop(stopCtx)
		cancel()

		if err != nil {
			lastError = &ApplicationError{Operation: "stop", Service: name, Err: err}
			lm.logger.Warn("component stop failed", "name", name, "error", err)
			lm.broadcastEvent(LifecycleEvent{
				Type:      "component.stop_failed",
				Component: name,
				Timestamp: time.Now(),
				Error:     err,
			})
		} else {
			lm.broadcastEvent(LifecycleEvent{
				Type:      "component.stopped",
				Component: name,
				Timestamp: time.Now(),
			})
		}
	}

	lm.startOrder = nil
	return lastError
}

// Health asks every component for its status.
func (lm *LifecycleManager) Health(ctx context.Context) map[string]HealthStatus {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	health := make(map[string]HealthStatus)

	for name, component := range lm.components {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := component.Health(healthCtx)
		cancel()

		if err != nil {
			health[name] = HealthStatus{
				State:     HealthUnhealthy,
				Message:   err.Error(),
				LastCheck: time.Now(),
			}
		} else {
			health[name] = status
		}
	}

	return health
}

// Components returns the registered names.
func (lm *LifecycleManager) Components() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	names := make([]string, 0, len(lm.components))
	for name := range lm.components {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// StartOrder returns the names of the running components in start order
func (lm *LifecycleManager) StartOrder() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	order := make([]string, len(lm.startOrder))
	copy(order, lm.startOrder)
	return order
}

// Events returns the buffered event stream. Events are dropped while it
// is full.
func (lm *LifecycleManager) Events() <-chan LifecycleEvent {
	return lm.eventChan
}

// AddListener registers fn for every event. Listeners run on their own
// goroutine.
func (lm *LifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.listeners = append(lm.listeners, listener)
}

// calculateStartOrder orders components with Kahn's algorithm. Ties are
// broken by name so the order is stable.
func (lm *LifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int)
	graph := make(map[string][]string)

	for name := range lm.components {
		inDegree[name] = 0
		graph[name] = []string{}
	}

	for name, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.components[dep]; !exists {
				return nil, fmt.Errorf("dependency %s of component %s is not registered", dep, name)
			}
			graph[dep] = append(graph[dep], name)
			inDegree[name]++
		}
	}

	queue := []string{}
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	result := []string{}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		ready := []string{}
		for _, dependent := range graph[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(result) != len(lm.components) {
		return nil, fmt.Errorf("circular dependency detected")
	}

	return result, nil
}

func (lm *LifecycleManager) broadcastEvent(event LifecycleEvent) {
	select {
	case lm.eventChan <- event:
	default:
	}

	for _, listener := range lm.listeners {
		go func(l func(LifecycleEvent)) {
			defer func() {
				if r := recover(); r != nil {
					lm.logger.Error("lifecycle listener panicked", "panic", r)
				}
			}()
			l(event)
		}(listener)
	}
}

// SetTimeout bounds each component Start and Stop.
func (lm *LifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.timeout = timeout
}

// IsStarted reports whether Start succeeded and Stop has not run.
func (lm *LifecycleManager) IsStarted() bool {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	return lm.started
}
