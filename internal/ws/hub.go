package ws

import (
	"sync"

	"parley/internal/models"
)

const outboundBuffer = 100

// Hub maps live connections to their outbound event channels. It knows
// nothing about rooms or users; the gateway decides fanout target sets, the
// hub just delivers.
type Hub struct {
	conns map[string]chan models.ServerEvent
	mu    sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]chan models.ServerEvent),
	}
}

// Register creates the outbound channel for connID.
func (h *Hub) Register(connID string) chan models.ServerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.ServerEvent, outboundBuffer)
	h.conns[connID] = ch
	return ch
}

// Unregister closes and removes connID's channel. Safe to call twice.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.conns[connID]; ok {
		close(ch)
		delete(h.conns, connID)
	}
}

// Send delivers one event to one connection. Delivery is best-effort: a
// receiver with a full buffer loses the event rather than stalling the
// sender.
func (h *Hub) Send(connID string, ev models.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.conns[connID]
	if !ok {
		return
	}
	// Holding the read lock keeps Unregister from closing ch mid-send.
	select {
	case ch <- ev:
	default:
		// Slow consumer, drop.
	}
}

// Fanout delivers one event to every listed connection.
func (h *Hub) Fanout(connIDs []string, ev models.ServerEvent) {
	for _, connID := range connIDs {
		h.Send(connID, ev)
	}
}
