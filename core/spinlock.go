package core

import (
	"sync/atomic"

	"code.hybscloud.com/iox"
)

// SpinLock is a busy-wait lock for O(1) critical sections such as a table
// lookup or pointer swap. It is not reentrant.
type SpinLock struct {
	held atomic.Bool
}

// Lock acquires the lock, backing off adaptively while it is contended.
func (l *SpinLock) Lock() {
	var bo iox.Backoff
	for !l.held.CompareAndSwap(false, true) {
		bo.Wait()
	}
}

// TryLock acquires the lock if it is free.
func (l *SpinLock) TryLock() bool {
	return l.held.CompareAndSwap(false, true)
}

// Unlock releases the lock.
func (l *SpinLock) Unlock() {
	l.held.Store(false)
}
