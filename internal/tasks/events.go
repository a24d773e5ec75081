package tasks

import (
	"sync"
	"time"

	"svs-converter/internal/domain"
)

// EventType classifies messages pushed to the view.
type EventType string

const (
	EventTypeTask   EventType = "task"
	EventTypeList   EventType = "list"
	EventTypeNotice EventType = "notice"
	EventTypeRun    EventType = "run"
	EventTypeReady  EventType = "ready"
)

// NoticeLevel is the severity of a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Event is a sequenced payload consumed by view subscribers.
type Event struct {
	Seq       int64                  `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	TaskID    string                 `json:"taskId,omitempty"`
	Task      *domain.ConversionTask `json:"task,omitempty"`
	Level     NoticeLevel            `json:"level,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Progress  *Progress              `json:"progress,omitempty"`
	Version   string                 `json:"version,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
