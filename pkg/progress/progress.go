// Package progress provides the ordered conduit that carries status messages from a
// background capture to the goroutine that reports them.
package progress

import "sync"

// Queue is an unbounded FIFO of progress messages with a single termination signal.
// Publish never blocks, so a producer can never deadlock against a slow consumer.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	closed bool
}

// New returns an empty, open queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Publish appends msg to the queue. It returns false if the queue was already closed,
// in which case msg is discarded.
func (q *Queue) Publish(msg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, msg)
	q.cond.Signal()
	return true
}

// Close marks the end of the stream. Only the first call has an effect and returns true.
func (q *Queue) Close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.closed = true
	q.cond.Broadcast()
	return true
}

// Next blocks until a message is available or the queue is closed and drained.
// ok is false once every published message has been returned and Close was called.
func (q *Queue) Next() (msg string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return "", false
	}

	msg = q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return msg, true
}

// Reporter returns a callback that publishes to q, for handing to producers that only
// need the write side.
func (q *Queue) Reporter() func(string) {
	return func(msg string) {
		q.Publish(msg)
	}
}
