package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"medguard.org/internal/obs"
)

func TestLogEmitterWritesJSONLine(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	e := NewLogEmitter()
	err := e.Emit(context.Background(), Event{
		Kind:      "access.check",
		ActorID:   "dr-jones",
		TargetID:  "imaging:study:read",
		Timestamp: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Details:   map[string]string{"reason": "allowed"},
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["kind"] != "access.check" {
		t.Fatalf("unexpected kind: %v", entry["kind"])
	}
	if entry["actor_id"] != "dr-jones" {
		t.Fatalf("unexpected actor: %v", entry["actor_id"])
	}
	details, ok := entry["details"].(map[string]any)
	if !ok || details["reason"] != "allowed" {
		t.Fatalf("details missing or incorrect: %v", entry["details"])
	}
}

func TestEmitRequiresKind(t *testing.T) {
	for _, e := range []Emitter{NewLogEmitter(), NewMemoryEmitter()} {
		if err := e.Emit(context.Background(), Event{}); !errors.Is(err, ErrEmit) {
			t.Fatalf("expected ErrEmit for missing kind, got %v", err)
		}
	}
}

func TestMemoryEmitterReturnsCopies(t *testing.T) {
	e := NewMemoryEmitter()
	if err := e.Emit(context.Background(), Event{Kind: "threat.report"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	events := e.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	events[0].Kind = "mutated"
	if got := e.Events()[0].Kind; got != "threat.report" {
		t.Fatalf("internal state mutated via returned slice: %q", got)
	}
}

func TestFailingEmitter(t *testing.T) {
	if err := (FailingEmitter{}).Emit(context.Background(), Event{Kind: "x"}); !errors.Is(err, ErrEmit) {
		t.Fatalf("expected ErrEmit, got %v", err)
	}
}
