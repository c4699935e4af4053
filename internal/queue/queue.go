package queue

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFull is returned by Push when a bounded queue has no room left.
	ErrFull = errors.New("queue is full")
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("queue is closed")
)

// Queue is a FIFO of work items that is safe for concurrent use.
type Queue interface {
	// Push appends item to the tail. It never blocks.
	Push(item int) error
	// TryPop removes and returns the head. ok is false when the queue is empty.
	TryPop() (item int, ok bool)
	// IsEmpty reports whether the queue held no items at the time of the call.
	IsEmpty() bool
	// Len returns the number of queued items.
	Len() int
	// Close rejects further pushes. Queued items stay poppable.
	Close()
}

// Notifier is implemented by queues that can wake waiters on push.
type Notifier interface {
	// Ready returns a channel that is closed by the next Push.
	Ready() <-chan struct{}
}

// Kind selects a Queue implementation.
type Kind string

const (
	KindMem  Kind = "mem"
	KindChan Kind = "chan"
)

// ParseKind parses a queue kind name. The empty string selects KindMem.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindMem:
		return KindMem, nil
	case KindChan:
		return KindChan, nil
	default:
		return "", fmt.Errorf("unknown queue kind: %s", s)
	}
}

// New creates a queue of the given kind. capacity only applies to KindChan.
func New(kind Kind, capacity int) (Queue, error) {
	switch kind {
	case "", KindMem:
		return NewMem(), nil
	case KindChan:
		if capacity <= 0 {
			return nil, fmt.Errorf("chan queue capacity must be positive, got %d", capacity)
		}
		return NewChan(capacity), nil
	default:
		return nil, fmt.Errorf("unknown queue kind: %s", kind)
	}
}
