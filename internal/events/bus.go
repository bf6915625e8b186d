// Package events is the in-process pub/sub channel between the trading
// engines and the passive consumers: status projection, websocket hub,
// notifications and metrics. Publishing never blocks the publisher.
package events

import (
	"sync"
	"time"
)

// EventType tags the engine happenings consumers can subscribe to.
type EventType string

const (
	EventSignalEvaluated EventType = "SIGNAL_EVALUATED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventEquitySnapshot  EventType = "EQUITY_SNAPSHOT"
	EventBreakerTripped  EventType = "BREAKER_TRIPPED"
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventEnginePaused    EventType = "ENGINE_PAUSED"
	EventEngineResumed   EventType = "ENGINE_RESUMED"
	EventEngineError     EventType = "ENGINE_ERROR"
	EventSettingsApplied EventType = "SETTINGS_APPLIED"
)

// Event is one bus message. Payload carries the producing package's own
// type (strategy.Result, database.Trade, ...); consumers type-assert.
type Event struct {
	Type      EventType `json:"type"`
	Stream    string    `json:"stream,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Subscriber handles one event. Handlers run on their own goroutine and
// must tolerate concurrent invocation.
type Subscriber func(Event)

// Bus fans events out to type-scoped and catch-all subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], s)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, s)
}

// Publish stamps the event timestamp when absent and dispatches each
// subscriber on its own goroutine so slow consumers never stall a cycle.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subscribers[event.Type] {
		go s(event)
	}
	for _, s := range b.allSubs {
		go s(event)
	}
}

// PublishError reports a cycle-level failure from a stream.
func (b *Bus) PublishError(stream, message string, err error) {
	payload := map[string]string{"message": message}
	if err != nil {
		payload["error"] = err.Error()
	}
	b.Publish(Event{Type: EventEngineError, Stream: stream, Payload: payload})
}
