package bus

import (
	"testing"
	"time"

	"github.com/opalhq/opal/pkg/event"
)

func TestSubscribeReceivesOnlyOwnSession(t *testing.T) {
	h := NewHub()
	chA, cancelA := h.Subscribe("a")
	defer cancelA()
	chB, cancelB := h.Subscribe("b")
	defer cancelB()

	h.Broadcast(event.AgentStart("a"))

	select {
	case evt := <-chA:
		if evt.SessionID != "a" {
			t.Fatalf("got session %q", evt.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session a event")
	}

	select {
	case evt := <-chB:
		t.Fatalf("session b should not have received an event, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWildcardReceivesEverySession(t *testing.T) {
	h := NewHub()
	all, cancel := h.SubscribeAll()
	defer cancel()

	h.Broadcast(event.AgentStart("x"))
	h.Broadcast(event.AgentStart("y"))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-all:
			seen[evt.SessionID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for wildcard event")
		}
	}
	if !seen["x"] || !seen["y"] {
		t.Fatalf("expected both sessions, got %+v", seen)
	}
}

func TestBroadcastNonBlockingOnFullSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("s")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Broadcast(event.MessageDelta("s", "x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full subscriber channel")
	}
	_ = ch
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("s")
	cancel()

	h.Broadcast(event.AgentStart("s"))

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}
