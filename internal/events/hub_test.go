package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(16)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeQueryProgress, json.RawMessage(`{"type":"progress"}`))

	select {
	case ev := <-ch:
		if ev.Type != TypeQueryProgress {
			t.Errorf("Type = %q, want %q", ev.Type, TypeQueryProgress)
		}
		if string(ev.Data) != `{"type":"progress"}` {
			t.Errorf("Data = %s", ev.Data)
		}
		if ev.ID == 0 {
			t.Error("event ID not assigned")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSnapshotSince(t *testing.T) {
	h := NewHub(4)
	for i := 0; i < 6; i++ {
		h.Publish(TypeQueryProgress, map[string]int{"seq": i})
	}

	// Ring holds the last 4; IDs 3..6.
	all := h.SnapshotSince(0)
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].ID != 3 || all[3].ID != 6 {
		t.Errorf("IDs = %d..%d, want 3..6", all[0].ID, all[3].ID)
	}

	since := h.SnapshotSince(5)
	if len(since) != 1 || since[0].ID != 6 {
		t.Errorf("SnapshotSince(5) = %v", since)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(8)
	_, cancel := h.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Publish(TypeQueryProgress, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	// Publishing after cancel must not panic.
	h.Publish(TypeSessionDeleted, nil)
}
