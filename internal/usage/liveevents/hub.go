// Package liveevents fans committed usage events out to in-process
// subscribers. Streams are keyed by tenant so one tenant never observes
// another tenant's traffic.
package liveevents

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
)

const (
	StatusRecorded = "recorded"
	StatusReplayed = "replayed"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidTenant  = errors.New("invalid_tenant")
)

type LiveEvent struct {
	UsageEventID   string `json:"usage_event_id"`
	EventKey       string `json:"event_key"`
	Quantity       string `json:"quantity"`
	OccurredAt     string `json:"occurred_at"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Status         string `json:"status"`
}

// FromUsageEvent builds the wire form of a usage event.
func FromUsageEvent(event *usagedomain.UsageEvent, replayed bool) LiveEvent {
	out := LiveEvent{
		UsageEventID: event.ID.String(),
		EventKey:     event.EventKey,
		Quantity:     event.Quantity.String(),
		OccurredAt:   event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Status:       StatusRecorded,
	}
	if event.IdempotencyKey != nil {
		out.IdempotencyKey = *event.IdempotencyKey
	}
	if replayed {
		out.Status = StatusReplayed
	}
	return out
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[snowflake.ID]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]*Subscription
	nextID uint64
}

type Subscription struct {
	hub      *Hub
	tenantID snowflake.ID
	eventKey string
	id       uint64
	ch       chan LiveEvent
	once     sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[snowflake.ID]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish never blocks: slow subscribers drop events rather than stall
// the emitter.
func (h *Hub) Publish(tenantID snowflake.ID, event LiveEvent) {
	if h == nil || tenantID == 0 {
		return
	}
	h.mu.RLock()
	st := h.streams[tenantID]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	st.buffer = append(st.buffer, event)
	if len(st.buffer) > h.bufferSize {
		st.buffer = st.buffer[len(st.buffer)-h.bufferSize:]
	}
	targets := make([]chan LiveEvent, 0, len(st.subs))
	for _, sub := range st.subs {
		if sub.matches(event) {
			targets = append(targets, sub.ch)
		}
	}
	st.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a listener for one tenant, optionally narrowed to a
// single event key. The returned backlog holds recent matching events.
func (h *Hub) Subscribe(tenantID snowflake.ID, eventKey string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	if tenantID == 0 {
		return nil, nil, ErrInvalidTenant
	}

	// h.mu is held so a concurrent unsubscribe cannot drop the stream
	// between lookup and registration.
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.streams[tenantID]
	if st == nil {
		st = &stream{subs: make(map[uint64]*Subscription)}
		h.streams[tenantID] = st
	}
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	sub := &Subscription{
		hub:      h,
		tenantID: tenantID,
		eventKey: strings.TrimSpace(eventKey),
		id:       id,
		ch:       make(chan LiveEvent, h.subscriberBuffer),
	}
	st.subs[id] = sub
	backlog := make([]LiveEvent, 0, len(st.buffer))
	for _, event := range st.buffer {
		if sub.matches(event) {
			backlog = append(backlog, event)
		}
	}
	st.mu.Unlock()

	return sub, backlog, nil
}

func (h *Hub) unsubscribe(tenantID snowflake.ID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.streams[tenantID]
	if st == nil {
		return
	}
	st.mu.Lock()
	delete(st.subs, id)
	empty := len(st.subs) == 0
	st.mu.Unlock()
	if empty {
		delete(h.streams, tenantID)
	}
}

func (s *Subscription) matches(event LiveEvent) bool {
	return s.eventKey == "" || s.eventKey == event.EventKey
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.tenantID, s.id)
	})
}
