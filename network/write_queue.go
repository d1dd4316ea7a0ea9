package network

import (
	"net"
	"sync"
	"time"
)

// writeQueue serializes writes to one connection. At most one writer
// goroutine drains it at a time; producers never block on the socket.
type writeQueue struct {
	mu      sync.Mutex
	pending [][]byte
	writing bool
	closed  bool
}

// push queues data and reports whether the caller must start a writer.
func (q *writeQueue) push(data []byte) (start bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, false
	}
	q.pending = append(q.pending, data)
	if q.writing {
		return false, true
	}
	q.writing = true
	return true, true
}

// next hands the writer the queued batch, or ends its turn when empty.
func (q *writeQueue) next() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 || q.closed {
		q.writing = false
		return nil
	}
	batch := q.pending
	q.pending = nil
	return batch
}

// abandon clears the writer flag when no writer could be started.
func (q *writeQueue) abandon() {
	q.mu.Lock()
	q.writing = false
	q.pending = nil
	q.mu.Unlock()
}

// park ends the writer's turn but keeps queued data for a later claim.
func (q *writeQueue) park() {
	q.mu.Lock()
	q.writing = false
	q.mu.Unlock()
}

// claim reports whether the caller should start a writer for data queued
// while no connection was available.
func (q *writeQueue) claim() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.writing || len(q.pending) == 0 {
		return false
	}
	q.writing = true
	return true
}

func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.mu.Unlock()
}

// drain writes queued frames to conn until the queue is empty. It
// returns the first write error.
func (q *writeQueue) drain(conn net.Conn, timeout time.Duration) error {
	for {
		batch := q.next()
		if batch == nil {
			return nil
		}
		for _, data := range batch {
			if timeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if _, err := conn.Write(data); err != nil {
				q.close()
				return err
			}
		}
	}
}
