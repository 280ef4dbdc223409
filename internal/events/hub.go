// Package events carries host-side notifications — most importantly the
// worker's query progress envelopes — from the bridge to whatever the
// front-end subscribes with (the SSE feed, the watch TUI).
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the host.
const (
	TypeQueryStarted    = "query.started"
	TypeQueryProgress   = "query.progress"
	TypeQueryResult     = "query.result"
	TypeQueryFailed     = "query.failed"
	TypeImportCompleted = "import.completed"
	TypeSessionDeleted  = "session.deleted"
)

// Event is one published notification. Data is the JSON payload; for
// query.progress it is the worker's progress envelope verbatim.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"`
}

// Hub is an in-memory pub/sub with a small ring buffer so late subscribers
// can replay recent events. Publishing never blocks: a subscriber that
// cannot keep up loses events here, not throughput at the worker (the
// bridge's own ordered, lossless handoff to its direct subscriber is a
// separate bounded channel).
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub creates a hub retaining the last capacity events for replay.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 128
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish marshals data and fans it out to all subscribers. Raw JSON
// payloads can be passed as json.RawMessage to avoid re-encoding.
func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		payload = v
	case []byte:
		payload = v
	default:
		if b, err := json.Marshal(v); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	h.remember(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than stall publishers.
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
// lastID 0 returns the full retained window.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) remember(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
