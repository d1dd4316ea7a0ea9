package core

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Executor is a pool of worker goroutines pulling tasks from one shared,
// unbounded FIFO queue. It also tracks long-running goroutines started
// with Go so that Join can wait for them.
type Executor struct {
	name    string
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	started bool
	stopped bool
	done    chan struct{}

	group errgroup.Group
}

// NewExecutor creates an executor with the given number of workers.
// Workers are started by Run.
func NewExecutor(name string, workers int, logger *slog.Logger) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		name:    name,
		workers: workers,
		logger:  logger.With("executor", name),
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Name returns the executor name.
func (e *Executor) Name() string {
	return e.name
}

// Workers returns the number of worker goroutines.
func (e *Executor) Workers() int {
	return e.workers
}

// Run starts the worker goroutines. Calling Run twice is a no-op.
func (e *Executor) Run() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.stopped {
		return
	}
	e.started = true

	for i := 0; i < e.workers; i++ {
		e.group.Go(func() error {
			e.workerLoop()
			return nil
		})
	}
}

// Post enqueues a task. It returns false once the executor is stopped.
func (e *Executor) Post(task func()) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()

	e.cond.Signal()
	return true
}

// Go runs fn on its own goroutine, tracked by Join. Blocking loops such
// as socket readers use it; they must return once Done is closed or
// their socket is closed.
func (e *Executor) Go(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return false
	}
	e.group.Go(func() error {
		defer e.recoverTask()
		fn()
		return nil
	})
	return true
}

// Done is closed when Stop is called.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Stop asks workers to finish the queued tasks and return. New tasks are
// refused from now on.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.done)
	e.mu.Unlock()

	e.cond.Broadcast()
}

// Join blocks until every worker and tracked goroutine has returned.
func (e *Executor) Join() {
	_ = e.group.Wait()
}

// Pending returns the number of queued tasks.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

func (e *Executor) workerLoop() {
	for {
		e.mu.Lock()
		for len(e.tasks) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.tasks[0]
		e.tasks[0] = nil
		e.tasks = e.tasks[1:]
		e.mu.Unlock()

		e.runTask(task)
	}
}

func (e *Executor) runTask(task func()) {
	defer e.recoverTask()
	task()
}

func (e *Executor) recoverTask() {
	if r := recover(); r != nil {
		e.logger.Error("task panicked", "panic", r)
	}
}
