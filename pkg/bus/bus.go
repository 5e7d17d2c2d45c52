package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hivemesh/hivemind/pkg/types"
	gocache "github.com/patrickmn/go-cache"
)

// MessageType classifies bus messages
type MessageType string

const (
	MessageDirect         MessageType = "direct"
	MessageBroadcast      MessageType = "broadcast"
	MessageChannel        MessageType = "channel"
	MessageQuery          MessageType = "query"
	MessageResponse       MessageType = "response"
	MessageNotification   MessageType = "notification"
	MessageTaskAssignment MessageType = "task_assignment"
	MessageProgressUpdate MessageType = "progress_update"
	MessageCoordination   MessageType = "coordination"
	MessageCancel         MessageType = "cancel"
)

// MessagePriority orders drop policy when an inbox is saturated
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

// ErrDeliveryFailed indicates a message could not be enqueued to the
// receiver. Delivery is at-most-once; the caller decides whether to retry.
var ErrDeliveryFailed = errors.New("bus: delivery failed")

// Message is one unit of communication between agents
type Message struct {
	ID               string          `json:"id"`
	Type             MessageType     `json:"type"`
	Priority         MessagePriority `json:"priority"`
	From             string          `json:"from"`
	To               string          `json:"to"` // agent id, swarm id or channel name
	Subject          string          `json:"subject,omitempty"`
	Payload          []byte          `json:"payload,omitempty"`
	CorrelationID    string          `json:"correlation_id,omitempty"`
	RequiresResponse bool            `json:"requires_response,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// endpoint is one registered inbox. A single buffered channel per
// receiver keeps delivery ordered per (sender, receiver) pair.
type endpoint struct {
	agentID string
	swarmID string
	inbox   chan *Message
	closed  chan struct{}
	once    sync.Once
}

func (e *endpoint) close() {
	e.once.Do(func() { close(e.closed) })
}

// channel is a named subscription group. The subscriber slice is
// copy-on-write so delivery never takes the bus lock.
type channel struct {
	name        string
	private     bool
	subscribers []string // agent ids, replaced wholesale on change
}

// Stats reports bus throughput
type Stats struct {
	Sent      int64            `json:"sent"`
	Delivered int64            `json:"delivered"`
	Dropped   int64            `json:"dropped"`
	Timeouts  int64            `json:"timeouts"`
	ByType    map[string]int64 `json:"by_type"`
	Endpoints int              `json:"endpoints"`
	Channels  int              `json:"channels"`
}

// Bus is the single-process pub/sub message bus. Delivery is
// at-most-once within the process.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
	channels  map[string]*channel

	// pending queries keyed by correlation id, expired by deadline
	pending *gocache.Cache

	statsMu   sync.Mutex
	sent      int64
	delivered int64
	dropped   int64
	timeouts  int64
	byType    map[MessageType]int64
}

const inboxDepth = 256

// New creates a new bus
func New() *Bus {
	return &Bus{
		endpoints: make(map[string]*endpoint),
		channels:  make(map[string]*channel),
		pending:   gocache.New(30*time.Second, time.Minute),
		byType:    make(map[MessageType]int64),
	}
}

// Register creates an inbox for an agent and returns its receive channel
func (b *Bus) Register(agentID, swarmID string) <-chan *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ep, ok := b.endpoints[agentID]; ok {
		return ep.inbox
	}
	ep := &endpoint{
		agentID: agentID,
		swarmID: swarmID,
		inbox:   make(chan *Message, inboxDepth),
		closed:  make(chan struct{}),
	}
	b.endpoints[agentID] = ep
	return ep.inbox
}

// Unregister removes an agent endpoint. Pending messages already enqueued
// remain readable until Drain or garbage collection; new sends fail.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, ok := b.endpoints[agentID]
	if !ok {
		return
	}
	ep.close()
	delete(b.endpoints, agentID)

	for name, ch := range b.channels {
		b.channels[name] = ch.without(agentID)
	}
}

// Drain waits until the agent's inbox is empty or the deadline elapses.
// Used during retirement so in-flight messages are observed first.
func (b *Bus) Drain(agentID string, deadline time.Duration) bool {
	b.mu.RLock()
	ep, ok := b.endpoints[agentID]
	b.mu.RUnlock()
	if !ok {
		return true
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		if len(ep.inbox) == 0 {
			return true
		}
		select {
		case <-timer.C:
			return false
		case <-tick.C:
		}
	}
}

// Send delivers a message to a single agent. Returns ErrDeliveryFailed if
// the receiver is unknown or its inbox is full.
func (b *Bus) Send(msg *Message) error {
	b.prepare(msg)

	b.mu.RLock()
	ep, ok := b.endpoints[msg.To]
	b.mu.RUnlock()
	if !ok {
		b.count(msg.Type, false)
		return fmt.Errorf("no endpoint %s: %w", msg.To, ErrDeliveryFailed)
	}
	return b.deliver(ep, msg)
}

// Broadcast delivers a message to every endpoint in a swarm except the sender
func (b *Bus) Broadcast(msg *Message) int {
	b.prepare(msg)
	msg.Type = MessageBroadcast

	b.mu.RLock()
	eps := make([]*endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		if ep.swarmID == msg.To && ep.agentID != msg.From {
			eps = append(eps, ep)
		}
	}
	b.mu.RUnlock()

	n := 0
	for _, ep := range eps {
		if b.deliver(ep, msg) == nil {
			n++
		}
	}
	return n
}

// OpenChannel declares a named channel. Opening an existing channel is a no-op.
func (b *Bus) OpenChannel(name string, private bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[name]; !ok {
		b.channels[name] = &channel{name: name, private: private}
	}
}

// Subscribe adds an agent to a channel. Subscription is idempotent; the
// channel is created public if it does not exist.
func (b *Bus) Subscribe(name, agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	if !ok {
		ch = &channel{name: name}
		b.channels[name] = ch
	}
	for _, id := range ch.subscribers {
		if id == agentID {
			return
		}
	}
	b.channels[name] = ch.with(agentID)
}

// Unsubscribe removes an agent from a channel immediately
func (b *Bus) Unsubscribe(name, agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.channels[name]; ok {
		b.channels[name] = ch.without(agentID)
	}
}

// Publish delivers a message to every subscriber of a channel
func (b *Bus) Publish(msg *Message) int {
	b.prepare(msg)
	msg.Type = MessageChannel

	b.mu.RLock()
	ch, ok := b.channels[msg.To]
	var subs []string
	if ok {
		subs = ch.subscribers // copy-on-write: safe to read without the lock held
	}
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	n := 0
	for _, id := range subs {
		if id == msg.From {
			continue
		}
		b.mu.RLock()
		ep, ok := b.endpoints[id]
		b.mu.RUnlock()
		if ok && b.deliver(ep, msg) == nil {
			n++
		}
	}
	return n
}

// pendingQuery carries the reply channel for an outstanding query
type pendingQuery struct {
	replyCh chan *Message
}

// Query sends a message requiring a response and waits for it. The
// deadline bounds the wait; expiry surfaces ErrQueryTimeout.
func (b *Bus) Query(ctx context.Context, msg *Message, deadline time.Duration) (*Message, error) {
	b.prepare(msg)
	msg.Type = MessageQuery
	msg.RequiresResponse = true
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}

	pq := &pendingQuery{replyCh: make(chan *Message, 1)}
	b.pending.Set(msg.CorrelationID, pq, deadline)

	if err := b.Send(msg); err != nil {
		b.pending.Delete(msg.CorrelationID)
		return nil, err
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case reply := <-pq.replyCh:
		return reply, nil
	case <-timer.C:
		b.pending.Delete(msg.CorrelationID)
		b.statsMu.Lock()
		b.timeouts++
		b.statsMu.Unlock()
		return nil, fmt.Errorf("query %s to %s: %w", msg.CorrelationID, msg.To, types.ErrQueryTimeout)
	case <-ctx.Done():
		b.pending.Delete(msg.CorrelationID)
		return nil, ctx.Err()
	}
}

// Respond completes an outstanding query. Responses to expired or unknown
// correlation ids are dropped.
func (b *Bus) Respond(msg *Message) {
	b.prepare(msg)
	msg.Type = MessageResponse
	if msg.CorrelationID == "" {
		return
	}

	v, ok := b.pending.Get(msg.CorrelationID)
	if !ok {
		b.count(msg.Type, false)
		return
	}
	b.pending.Delete(msg.CorrelationID)

	pq := v.(*pendingQuery)
	select {
	case pq.replyCh <- msg:
		b.count(msg.Type, true)
	default:
		b.count(msg.Type, false)
	}
}

// Stats returns throughput counters and per-type counts
func (b *Bus) Stats() *Stats {
	b.statsMu.Lock()
	byType := make(map[string]int64, len(b.byType))
	for t, n := range b.byType {
		byType[string(t)] = n
	}
	s := &Stats{
		Sent:      b.sent,
		Delivered: b.delivered,
		Dropped:   b.dropped,
		Timeouts:  b.timeouts,
		ByType:    byType,
	}
	b.statsMu.Unlock()

	b.mu.RLock()
	s.Endpoints = len(b.endpoints)
	s.Channels = len(b.channels)
	b.mu.RUnlock()
	return s
}

// Close tears down every endpoint
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ep := range b.endpoints {
		ep.close()
		delete(b.endpoints, id)
	}
	b.pending.Flush()
}

func (b *Bus) prepare(msg *Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
}

func (b *Bus) deliver(ep *endpoint, msg *Message) error {
	select {
	case <-ep.closed:
		b.count(msg.Type, false)
		return fmt.Errorf("endpoint %s closed: %w", ep.agentID, ErrDeliveryFailed)
	default:
	}

	select {
	case ep.inbox <- msg:
		b.count(msg.Type, true)
		return nil
	default:
		// At-most-once: a saturated inbox drops the message
		b.count(msg.Type, false)
		return fmt.Errorf("inbox full for %s: %w", ep.agentID, ErrDeliveryFailed)
	}
}

func (b *Bus) count(t MessageType, delivered bool) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.sent++
	b.byType[t]++
	if delivered {
		b.delivered++
	} else {
		b.dropped++
	}
}

func (c *channel) with(agentID string) *channel {
	subs := make([]string, 0, len(c.subscribers)+1)
	subs = append(subs, c.subscribers...)
	subs = append(subs, agentID)
	return &channel{name: c.name, private: c.private, subscribers: subs}
}

func (c *channel) without(agentID string) *channel {
	subs := make([]string, 0, len(c.subscribers))
	for _, id := range c.subscribers {
		if id != agentID {
			subs = append(subs, id)
		}
	}
	return &channel{name: c.name, private: c.private, subscribers: subs}
}
