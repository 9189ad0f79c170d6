// Package events provides the in-process event bus connecting the engine to
// the dashboard's live feeds.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventTradeExecuted   EventType = "TRADE_EXECUTED"
	EventTradeRejected   EventType = "TRADE_REJECTED"
	EventRiskTriggered   EventType = "RISK_TRIGGERED"
	EventBreakerTripped  EventType = "BREAKER_TRIPPED"
	EventCycleCompleted  EventType = "CYCLE_COMPLETED"
	EventEngineToggled   EventType = "ENGINE_TOGGLED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in goroutines
// so a slow consumer never blocks the trading cycle.
func (b *Bus) Publish(eventType string, payload interface{}) {
	b.PublishEvent(Event{Type: EventType(eventType), Data: payload})
}

// PublishEvent sends a fully built event to all subscribers.
func (b *Bus) PublishEvent(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.PublishEvent(Event{Type: EventError, Data: data})
}
