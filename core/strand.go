package core

import "sync"

// Strand serializes tasks on top of an Executor. Tasks posted to one
// strand run one at a time in posting order, possibly on different
// workers. At most one drain task per strand is queued on the executor.
type Strand struct {
	exec *Executor

	mu      sync.Mutex
	queue   []func()
	running bool
}

// NewStrand creates a strand bound to exec.
func NewStrand(exec *Executor) *Strand {
	return &Strand{exec: exec}
}

// Post enqueues task. It returns false if the executor refused the drain
// task, which only happens after the executor has been stopped.
func (s *Strand) Post(task func()) bool {
	s.mu.Lock()
	s.queue = append(s.queue, task)
	if s.running {
		s.mu.Unlock()
		return true
	}
	s.running = true
	s.mu.Unlock()

	if !s.exec.Post(s.drain) {
		s.mu.Lock()
		s.running = false
		s.queue = nil
		s.mu.Unlock()
		return false
	}
	return true
}

// Pending returns the number of tasks waiting on this strand.
func (s *Strand) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// drain runs the batch queued when it starts, then yields the worker
// back to the executor so that one busy strand cannot starve others.
func (s *Strand) drain() {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	for i, task := range batch {
		s.runTask(task)
		batch[i] = nil
	}

	s.mu.Lock()
	if len(s.queue) == 0 {
		s.running = false
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.exec.Post(s.drain) {
		s.mu.Lock()
		s.running = false
		s.queue = nil
		s.mu.Unlock()
	}
}

func (s *Strand) runTask(task func()) {
	defer s.exec.recoverTask()
	task()
}
