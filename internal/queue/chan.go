package queue

import "sync"

// Chan is a bounded FIFO backed by a buffered channel.
type Chan struct {
	mu     sync.RWMutex
	items  chan int
	closed bool
}

var _ Queue = (*Chan)(nil)

// NewChan creates a Chan queue holding at most capacity items.
func NewChan(capacity int) *Chan {
	return &Chan{items: make(chan int, capacity)}
}

// Push appends item, or returns ErrFull when the buffer is exhausted.
func (q *Chan) Push(item int) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.items <- item:
		return nil
	default:
		return ErrFull
	}
}

// TryPop receives the head item without blocking.
func (q *Chan) TryPop() (int, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
		return 0, false
	}
}

// IsEmpty reports whether the buffer is empty.
func (q *Chan) IsEmpty() bool {
	return len(q.items) == 0
}

// Len returns the number of buffered items.
func (q *Chan) Len() int {
	return len(q.items)
}

// Cap returns the capacity of the queue.
func (q *Chan) Cap() int {
	return cap(q.items)
}

// Close rejects further pushes. The channel itself stays open so buffered
// items can still be drained by TryPop.
func (q *Chan) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
