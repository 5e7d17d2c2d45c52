package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType represents the type of a system event
type EventType string

const (
	EventAgentSpawned  EventType = "agent_spawned"
	EventAgentRetired  EventType = "agent_retired"
	EventTaskCreated   EventType = "task_created"
	EventTaskAssigned  EventType = "task_assigned"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"
	EventDecisionOpen  EventType = "decision_open"
	EventDecisionClose EventType = "decision_closed"
	EventMemoryStored  EventType = "memory_stored"
	EventErrorOccurred EventType = "error_occurred"
	EventDegraded      EventType = "degraded"
)

// SystemEvent is the wire format emitted to subscribers. Timestamp is
// milliseconds since the Unix epoch.
type SystemEvent struct {
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	Timestamp int64             `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// JSON renders the event as its wire representation
func (e *SystemEvent) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// Subscriber is a channel that receives events
type Subscriber chan *SystemEvent

// Subscription is a cancellable event subscription
type Subscription struct {
	C      Subscriber
	broker *Broker
	once   sync.Once
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.unsubscribe(s.C)
	})
}

// Broker manages event subscriptions and distribution. Events are
// delivered to every subscriber in commit order; a subscriber whose
// buffer is full misses events rather than blocking the hive.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *SystemEvent
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *SystemEvent, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return &Subscription{C: sub, broker: b}
}

func (b *Broker) unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *SystemEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Emit is shorthand for publishing a typed event with a payload
func (b *Broker) Emit(t EventType, source string, payload map[string]string) {
	b.Publish(&SystemEvent{Type: t, Source: source, Payload: payload})
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *SystemEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
