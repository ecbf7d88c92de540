// Package audit defines the audit event contract consumed by the policy
// facade. Every access decision and threat state transition is recorded
// through an Emitter before the result becomes observable; when emission
// fails the triggering call fails with it.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medguard.org/internal/obs"
)

// ErrEmit indicates the audit sink rejected or could not record an event.
var ErrEmit = errors.New("audit: emit failed")

// Event is a single audit record.
type Event struct {
	Kind      string            `json:"kind"`
	ActorID   string            `json:"actor_id,omitempty"`
	TargetID  string            `json:"target_id,omitempty"`
	Timestamp time.Time         `json:"ts"`
	Details   map[string]string `json:"details,omitempty"`
}

// Emitter records audit events. Emit must return only after the event is
// durably recorded; callers treat an error as a hard failure of the
// operation being audited.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LogEmitter writes audit events as JSON lines through the shared logger.
type LogEmitter struct{}

// NewLogEmitter constructs a logger-backed emitter.
func NewLogEmitter() *LogEmitter { return &LogEmitter{} }

// Emit serializes the event and writes one log line.
func (e *LogEmitter) Emit(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Kind) == "" {
		return fmt.Errorf("%w: event kind is required", ErrEmit)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	entry := map[string]any{
		"ts":   event.Timestamp.Format(time.RFC3339Nano),
		"type": "audit",
		"kind": event.Kind,
	}
	if event.ActorID != "" {
		entry["actor_id"] = event.ActorID
	}
	if event.TargetID != "" {
		entry["target_id"] = event.TargetID
	}
	if len(event.Details) > 0 {
		details := make(map[string]string, len(event.Details))
		for k, v := range event.Details {
			details[k] = v
		}
		entry["details"] = details
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmit, err)
	}
	obs.Logger().Println(string(data))
	return nil
}

// MemoryEmitter keeps events in memory. Test and smoke-tool use.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryEmitter constructs an empty in-memory emitter.
func NewMemoryEmitter() *MemoryEmitter { return &MemoryEmitter{} }

// Emit appends the event.
func (e *MemoryEmitter) Emit(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Kind) == "" {
		return fmt.Errorf("%w: event kind is required", ErrEmit)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (e *MemoryEmitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// FailingEmitter rejects every event. Used to verify fail-closed behavior.
type FailingEmitter struct{}

// Emit always fails.
func (FailingEmitter) Emit(ctx context.Context, event Event) error {
	return fmt.Errorf("%w: sink unavailable", ErrEmit)
}
