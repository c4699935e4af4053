// Package completion holds the durable "no more items will arrive" fact
// shared by the producer and every worker.
//
// The signal is a broadcast flag, not a message: reading it never consumes
// it, so any number of workers can observe Done, now or later.
package completion

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInvalidTransition is returned when a state change would move backwards.
var ErrInvalidTransition = errors.New("invalid completion transition")

// State is the producer lifecycle as seen by the workers.
type State int32

const (
	NotStarted State = iota
	Producing
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Producing:
		return "Producing"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Signal is written only by the producer and read by all workers.
type Signal struct {
	state atomic.Int32
	done  chan struct{}
	once  sync.Once
}

// New returns a signal in the NotStarted state.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Start moves NotStarted to Producing.
func (s *Signal) Start() error {
	if s.state.CompareAndSwap(int32(NotStarted), int32(Producing)) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State(), Producing)
}

// Finish moves the signal to Done and releases every waiter. It must only be
// called after the last push has returned. Calling it again is a no-op.
func (s *Signal) Finish() {
	s.once.Do(func() {
		s.state.Store(int32(Done))
		close(s.done)
	})
}

// State returns the current state.
func (s *Signal) State() State {
	return State(s.state.Load())
}

// IsDone reports whether Finish has been called.
func (s *Signal) IsDone() bool {
	return s.State() == Done
}

// Done returns a channel that is closed once the signal reaches Done.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}
