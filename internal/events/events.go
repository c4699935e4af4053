// Package events provides an event system for pipeline lifecycle notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventProducerStarted is emitted when the producer announces Producing
	EventProducerStarted EventType = "producer_started"
	// EventItemProduced is emitted after an item has been pushed
	EventItemProduced EventType = "item_produced"
	// EventProducerDone is emitted once the completion signal is Done
	EventProducerDone EventType = "producer_done"
	// EventItemProcessed is emitted when a worker transformed an item
	EventItemProcessed EventType = "item_processed"
	// EventItemFailed is emitted when the transform of an item failed
	EventItemFailed EventType = "item_failed"
	// EventWorkerStopped is emitted when a worker reaches its terminal state
	EventWorkerStopped EventType = "worker_stopped"
	// EventRunComplete is emitted when every task of a run is terminal
	EventRunComplete EventType = "run_complete"
)

// Event represents a pipeline event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Item      int    `json:"item"`
	Value     int    `json:"value,omitempty"`
	Processed uint64 `json:"processed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewProducerStartedEvent creates a producer started event
func NewProducerStartedEvent(source string) Event {
	return Event{
		Type:      EventProducerStarted,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// NewItemProducedEvent creates an item produced event
func NewItemProducedEvent(source string, item int) Event {
	return Event{
		Type:      EventItemProduced,
		Timestamp: time.Now(),
		Source:    source,
		Data:      EventData{Item: item},
	}
}

// NewProducerDoneEvent creates a producer done event
func NewProducerDoneEvent(source string, produced uint64) Event {
	return Event{
		Type:      EventProducerDone,
		Timestamp: time.Now(),
		Source:    source,
		Data:      EventData{Processed: produced},
	}
}

// NewItemProcessedEvent creates an item processed event
func NewItemProcessedEvent(source string, item, value int) Event {
	return Event{
		Type:      EventItemProcessed,
		Timestamp: time.Now(),
		Source:    source,
		Data:      EventData{Item: item, Value: value},
	}
}

// NewItemFailedEvent creates an item failed event
func NewItemFailedEvent(source string, item int, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventItemFailed,
		Timestamp: time.Now(),
		Source:    source,
		Data:      EventData{Item: item, Error: errMsg},
	}
}

// NewWorkerStoppedEvent creates a worker stopped event
func NewWorkerStoppedEvent(source string, processed uint64) Event {
	return Event{
		Type:      EventWorkerStopped,
		Timestamp: time.Now(),
		Source:    source,
		Data:      EventData{Processed: processed},
	}
}

// NewRunCompleteEvent creates a run complete event
func NewRunCompleteEvent(runID string, processed uint64) Event {
	return Event{
		Type:      EventRunComplete,
		Timestamp: time.Now(),
		Source:    runID,
		Data:      EventData{Processed: processed},
	}
}
