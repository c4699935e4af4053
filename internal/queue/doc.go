// Package queue provides the shared FIFO that hands work items from the
// producer to the worker pool.
//
// Two implementations satisfy the Queue interface:
//
//   - Mem: an unbounded, mutex-protected FIFO. It also implements Notifier,
//     so waiting workers are woken by the next push instead of polling.
//   - Chan: a bounded FIFO on top of a buffered channel. Push on a full queue
//     fails with ErrFull instead of blocking.
//
// # Basic Usage
//
//	q := queue.NewMem()
//	_ = q.Push(1)
//	if item, ok := q.TryPop(); ok {
//	    // item is owned by this caller only
//	}
//
// # Emptiness
//
// IsEmpty is advisory. Another goroutine may push right after it returns
// true, so it must only be used as a hint to check the completion signal.
// TryPop is the only operation that transfers ownership of an item.
package queue
