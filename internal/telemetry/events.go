// Package telemetry records dashboard fetches and mode switches: it streams
// them as events, counts them in Prometheus and writes them to the fetch log.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType represents the type of telemetry event.
type EventType string

const (
	EventFetchStart    EventType = "fetch_start"
	EventFetchApplied  EventType = "fetch_applied"
	EventFetchFailed   EventType = "fetch_failed"
	EventFetchStale    EventType = "fetch_stale"
	EventModeSwitch    EventType = "mode_switch"
	EventBackendHealth EventType = "backend_health"
)

// Event is one entry on the event stream. Fetch events fill the fetch
// fields, mode switches fill From/To/Entity/PivotDate.
type Event struct {
	Type       EventType `json:"type"`
	ID         string    `json:"id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Controller string    `json:"controller,omitempty"`
	Metric     string    `json:"metric,omitempty"`
	Key        string    `json:"key,omitempty"`
	Token      uint64    `json:"token,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	ErrorClass string    `json:"error_class,omitempty"`
	Error      string    `json:"error,omitempty"`

	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Entity    string `json:"entity,omitempty"`
	PivotDate string `json:"pivot_date,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Healthy *bool `json:"healthy,omitempty"`
}

// EventBus manages event publishing and subscription for SSE consumers.
type EventBus struct {
	events      chan Event
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	once        sync.Once
}

// NewEventBus creates a new event bus with the specified buffer size.
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		events:      make(chan Event, bufferSize),
		subscribers: make(map[chan Event]struct{}),
		shutdown:    make(chan struct{}),
	}
	go eb.forward()
	return eb
}

// forward fans events out to all subscribers.
func (eb *EventBus) forward() {
	for {
		select {
		case event, ok := <-eb.events:
			if !ok {
				return
			}
			eb.mu.RLock()
			for ch := range eb.subscribers {
				select {
				case ch <- event:
				default:
					// slow subscriber, drop
				}
			}
			eb.mu.RUnlock()
		case <-eb.shutdown:
			return
		}
	}
}

// Publish publishes an event without blocking; events are dropped when the
// buffer is full or the bus is shut down.
func (eb *EventBus) Publish(event Event) {
	select {
	case <-eb.shutdown:
		return
	default:
	}
	select {
	case eb.events <- event:
	default:
	}
}

// Subscribe creates a new subscription channel for SSE consumers.
func (eb *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	eb.mu.Lock()
	eb.subscribers[ch] = struct{}{}
	eb.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	if _, exists := eb.subscribers[ch]; exists {
		delete(eb.subscribers, ch)
		close(ch)
	}
	eb.mu.Unlock()
}

// Shutdown stops the forward goroutine and closes every subscriber channel.
func (eb *EventBus) Shutdown() {
	eb.once.Do(func() {
		close(eb.shutdown)

		eb.mu.Lock()
		for ch := range eb.subscribers {
			close(ch)
		}
		eb.subscribers = make(map[chan Event]struct{})
		eb.mu.Unlock()
	})
}

// FormatSSEEvent formats an event as a Server-Sent Events frame.
func FormatSSEEvent(event Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "data: " + string(data) + "\n\n", nil
}
