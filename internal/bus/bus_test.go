package bus

import (
	"testing"

	"github.com/fundmatch/orchestrator/internal/domain"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	b := New()
	_, sub := b.Subscribe("r1")

	for i := 0; i < 3; i++ {
		b.Publish("r1", domain.LogEvent{Type: domain.EventTypeInfo, Message: string(rune('a' + i))})
	}

	for i := 0; i < 3; i++ {
		got := <-sub.C
		if got.Message != string(rune('a'+i)) {
			t.Fatalf("event %d: expected %q, got %q", i, string(rune('a'+i)), got.Message)
		}
	}
}

func TestSubscribeReplaysHistory(t *testing.T) {
	b := New()
	b.Publish("r1", domain.LogEvent{Type: domain.EventTypeWorkflowStart, Message: "start"})
	b.Publish("r1", domain.LogEvent{Type: domain.EventTypeInfo, Message: "progress"})

	replay, sub := b.Subscribe("r1")
	defer b.Unsubscribe("r1", sub)

	if len(replay) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(replay))
	}
	if replay[0].Message != "start" || replay[1].Message != "progress" {
		t.Fatalf("unexpected replay: %+v", replay)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := New()
	_, sub := b.Subscribe("r1")

	// Never drain; overflowing the buffer must drop the subscriber rather
	// than block the publisher.
	for i := 0; i < subscriberBuffer+2; i++ {
		b.Publish("r1", domain.LogEvent{Type: domain.EventTypeInfo})
	}

	drained := 0
	for range sub.C {
		drained++
	}
	if drained != subscriberBuffer {
		t.Fatalf("expected %d buffered events before drop, got %d", subscriberBuffer, drained)
	}
}

func TestCloseKeepsHistoryForLateSubscribers(t *testing.T) {
	b := New()
	b.Publish("r1", domain.LogEvent{Type: domain.EventTypeWorkflowStart})
	b.Publish("r1", domain.LogEvent{Type: domain.EventTypeWorkflowEnd})
	b.Close("r1")

	replay, sub := b.Subscribe("r1")
	if len(replay) != 2 {
		t.Fatalf("expected 2 replayed events after close, got %d", len(replay))
	}
	if _, open := <-sub.C; open {
		t.Fatal("expected closed live channel for a finished run")
	}

	// Publishing after close is a no-op.
	b.Publish("r1", domain.LogEvent{Type: domain.EventTypeInfo})
	replay, _ = b.Subscribe("r1")
	if len(replay) != 2 {
		t.Fatalf("expected history unchanged after close, got %d events", len(replay))
	}
}

func TestDropDiscardsState(t *testing.T) {
	b := New()
	b.Publish("r1", domain.LogEvent{Type: domain.EventTypeInfo})
	b.Drop("r1")

	replay, _ := b.Subscribe("r1")
	if len(replay) != 0 {
		t.Fatalf("expected empty history after drop, got %d events", len(replay))
	}
}
