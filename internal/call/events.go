package call

import (
	"sync"
	"time"

	"github.com/antoniostano/handoff/internal/protocol"
)

// EventHub fans call lifecycle events out to per-room subscribers (the
// websocket feed). Delivery is best-effort: a slow subscriber drops events
// rather than stalling orchestrator transitions.
type EventHub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan protocol.CallEvent
	nextID int
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[int]chan protocol.CallEvent)}
}

// Subscribe returns a buffered event channel for one room and a cancel
// function that must be called when the subscriber goes away.
func (h *EventHub) Subscribe(roomID string) (<-chan protocol.CallEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[roomID] == nil {
		h.subs[roomID] = make(map[int]chan protocol.CallEvent)
	}
	id := h.nextID
	h.nextID++
	ch := make(chan protocol.CallEvent, 32)
	h.subs[roomID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.subs[roomID]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(h.subs, roomID)
			}
		}
	}
	return ch, cancel
}

func (h *EventHub) Publish(ev protocol.CallEvent) {
	if ev.TSMs == 0 {
		ev.TSMs = time.Now().UnixMilli()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[ev.RoomID] {
		select {
		case ch <- ev:
		default:
			// Drop when the subscriber is saturated.
		}
	}
}
