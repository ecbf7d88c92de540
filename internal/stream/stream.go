// Package stream fans security events out to dashboard subscribers
// (SSE/WebSocket clients in the service layer). Delivery is best-effort:
// slow consumers drop events rather than block the publisher.
package stream

import (
	"context"
	"sync"
	"time"
)

// EventKind labels the source of a fan-out event.
type EventKind string

const (
	KindDecision EventKind = "decision"
	KindThreat   EventKind = "threat"
	KindIncident EventKind = "incident"
)

// Event is a single entry on the security event feed.
type Event struct {
	Kind      EventKind `json:"kind"`
	ActorID   string    `json:"actor_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 16

// Stream fan-outs security events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel function must be
// called to release the subscription.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (s *Stream) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers reports the current consumer count.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Wait blocks until an event arrives, the channel closes, or ctx ends.
// Convenience for consumers that multiplex on a context.
func Wait(ctx context.Context, ch <-chan Event) (Event, bool) {
	select {
	case <-ctx.Done():
		return Event{}, false
	case event, ok := <-ch:
		return event, ok
	}
}
