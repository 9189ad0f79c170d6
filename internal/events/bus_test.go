package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// collector gathers events across the dispatch goroutines.
type collector struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	want   int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	if len(c.events) == c.want {
		close(c.done)
	}
	c.mu.Unlock()
}

func (c *collector) wait(t *testing.T) []Event {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for events")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestBus_TypedSubscriptionFiltersEvents(t *testing.T) {
	bus := NewBus()
	col := newCollector(1)
	bus.Subscribe(EventTradeExecuted, col.handle)

	bus.Publish(string(EventSignalGenerated), "ignored")
	bus.Publish(string(EventTradeExecuted), "trade")

	events := col.wait(t)
	if events[0].Type != EventTradeExecuted {
		t.Errorf("Expected TRADE_EXECUTED, got %s", events[0].Type)
	}
	if events[0].Data != "trade" {
		t.Errorf("Expected payload carried, got %v", events[0].Data)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("Expected timestamp stamped on publish")
	}
}

func TestBus_SubscribeAllSeesEverything(t *testing.T) {
	bus := NewBus()
	col := newCollector(3)
	bus.SubscribeAll(col.handle)

	bus.Publish(string(EventSignalGenerated), 1)
	bus.Publish(string(EventTradeExecuted), 2)
	bus.Publish(string(EventCycleCompleted), 3)

	if events := col.wait(t); len(events) != 3 {
		t.Errorf("Expected 3 events, got %d", len(events))
	}
}

func TestBus_PublishError(t *testing.T) {
	bus := NewBus()
	col := newCollector(1)
	bus.Subscribe(EventError, col.handle)

	bus.PublishError("engine", "cycle failed", errors.New("venue down"))

	events := col.wait(t)
	data, ok := events[0].Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected map payload, got %T", events[0].Data)
	}
	if data["source"] != "engine" || data["error"] != "venue down" {
		t.Errorf("Unexpected error payload: %v", data)
	}
}
