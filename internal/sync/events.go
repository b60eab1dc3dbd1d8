package sync

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
)

type EventType string

const (
	EventPassStarted  EventType = "pass_started"
	EventPassFinished EventType = "pass_finished"
	EventPassSkipped  EventType = "pass_skipped"
	EventEntryFailed  EventType = "entry_failed"
	EventEntryStuck   EventType = "entry_stuck"
	EventConnection   EventType = "connection"
	EventSweep        EventType = "sweep"
	EventStatus       EventType = "status"
)

type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than block a sync pass.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

func (h *Hub) Publish(t EventType, data any) {
	ev := Event{Type: t, At: time.Now().UTC(), Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			logger.Log.Debug("Dropping event for slow subscriber", zap.Int("subscriber", id), zap.String("type", string(t)))
		}
	}
}

func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}
