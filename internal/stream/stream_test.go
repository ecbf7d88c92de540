package stream

import (
	"testing"
	"time"
)

func TestPublishFanOut(t *testing.T) {
	s := New()
	ch1, cancel1 := s.Subscribe()
	ch2, cancel2 := s.Subscribe()
	defer cancel1()
	defer cancel2()

	s.Publish(Event{Kind: KindThreat, Message: "intrusion blocked"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case event := <-ch:
			if event.Message != "intrusion blocked" || event.Timestamp.IsZero() {
				t.Fatalf("subscriber %d got unexpected event: %+v", i, event)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		s.Publish(Event{Kind: KindDecision, Message: "decision"})
	}
	// publisher never blocked; the buffer holds at most subscriberBuffer
	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("expected buffer of %d events, got %d", subscriberBuffer, got)
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	s := New()
	_, cancel := s.Subscribe()
	if s.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", s.Subscribers())
	}
	cancel()
	cancel() // idempotent
	if s.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", s.Subscribers())
	}
}
