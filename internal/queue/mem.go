package queue

import "sync"

// compactThreshold is the number of consumed slots after which the backing
// slice is shifted down.
const compactThreshold = 1024

// Mem is an unbounded FIFO guarded by a mutex.
type Mem struct {
	mu     sync.Mutex
	items  []int
	head   int
	closed bool
	ready  chan struct{}
}

var (
	_ Queue    = (*Mem)(nil)
	_ Notifier = (*Mem)(nil)
)

// NewMem creates an empty Mem queue.
func NewMem() *Mem {
	return &Mem{ready: make(chan struct{})}
}

// Push appends item and wakes every goroutine waiting on Ready.
func (q *Mem) Push(item int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.wakeLocked()
	return nil
}

// TryPop removes and returns the head item.
func (q *Mem) TryPop() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return 0, false
	}
	item := q.items[q.head]
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold:
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// IsEmpty reports whether no item is queued.
func (q *Mem) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of queued items.
func (q *Mem) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close rejects further pushes. Waiters are not woken: no item can arrive
// any more, and the end of production is announced by the completion signal.
func (q *Mem) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
}

// Ready returns the channel closed by the next Push. Callers must fetch it
// before TryPop so a push racing with the pop is never missed. After Close
// the returned channel is never closed.
func (q *Mem) Ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

func (q *Mem) wakeLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}
