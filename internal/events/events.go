// Package events is the in-process bus that decouples the session, job and history
// components from whoever renders their state.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/examlytics/examctl/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// Session lifecycle
	EventSessionAuthenticated EventType = "session_authenticated"
	EventSessionCleared       EventType = "session_cleared" // explicit logout
	EventSessionExpired       EventType = "session_expired" // 401 intercepted

	// Job lifecycle
	EventJobState    EventType = "job_state"    // poller state transition
	EventJobProgress EventType = "job_progress" // non-terminal status message update

	// History
	EventHistoryLoaded  EventType = "history_loaded"
	EventHistoryRemoved EventType = "history_removed"
	EventHistoryRestore EventType = "history_restored" // optimistic delete rolled back

	// Artifacts
	EventArtifactDownloaded EventType = "artifact_downloaded"
	EventArtifactMirrored   EventType = "artifact_mirrored"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// SessionEvent is published on login, logout and forced expiry.
type SessionEvent struct {
	BaseEvent
	Username string // empty unless known (login)
	Reason   string
}

// JobStateEvent represents a poller state transition.
type JobStateEvent struct {
	BaseEvent
	JobID    string
	Title    string
	OldState string
	NewState string
	Message  string // progress text or failure reason
}

// JobProgressEvent carries the latest server status while a job is still running.
type JobProgressEvent struct {
	BaseEvent
	JobID   string
	Status  string
	Message string
	Polls   int
}

// HistoryEvent describes a change to the local job list.
type HistoryEvent struct {
	BaseEvent
	JobID string
	Count int   // list length after the change
	Error error // set for EventHistoryRestore
}

// ArtifactEvent describes a downloaded or mirrored artifact.
type ArtifactEvent struct {
	BaseEvent
	JobID       string
	Name        string
	Path        string // local path, or remote URL for mirror events
	Bytes       int64
	Destination string
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. A nil bus is a no-op
// so components can be built without one.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishSession is a convenience method for session lifecycle events
func (eb *EventBus) PublishSession(t EventType, username, reason string) {
	eb.Publish(&SessionEvent{BaseEvent: base(t), Username: username, Reason: reason})
}

// PublishJobState is a convenience method for poller transitions
func (eb *EventBus) PublishJobState(jobID, title, oldState, newState, message string) {
	eb.Publish(&JobStateEvent{
		BaseEvent: base(EventJobState),
		JobID:     jobID,
		Title:     title,
		OldState:  oldState,
		NewState:  newState,
		Message:   message,
	})
}

// PublishJobProgress is a convenience method for non-terminal poll results
func (eb *EventBus) PublishJobProgress(jobID, status, message string, polls int) {
	eb.Publish(&JobProgressEvent{
		BaseEvent: base(EventJobProgress),
		JobID:     jobID,
		Status:    status,
		Message:   message,
		Polls:     polls,
	})
}

// PublishHistory is a convenience method for history list changes
func (eb *EventBus) PublishHistory(t EventType, jobID string, count int, err error) {
	eb.Publish(&HistoryEvent{BaseEvent: base(t), JobID: jobID, Count: count, Error: err})
}

// PublishArtifact is a convenience method for download and mirror results
func (eb *EventBus) PublishArtifact(t EventType, jobID, name, path string, bytes int64, destination string) {
	eb.Publish(&ArtifactEvent{
		BaseEvent:   base(t),
		JobID:       jobID,
		Name:        name,
		Path:        path,
		Bytes:       bytes,
		Destination: destination,
	})
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
