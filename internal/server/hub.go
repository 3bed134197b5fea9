package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/realtime"
)

// Hub tracks live sessions and hands them envelopes. It is the engine's
// delivery sink.
type Hub struct {
	mu       sync.RWMutex
	sessions map[realtime.ConnectionID]*clientSession
	log      *zap.Logger
}

// NewHub initializes an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[realtime.ConnectionID]*clientSession),
		log:      log,
	}
}

// Deliver queues env on the session without blocking. A missing session or
// a full buffer drops the envelope.
func (h *Hub) Deliver(id realtime.ConnectionID, env protocol.Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[id]
	if !ok {
		return false
	}
	select {
	case s.sendCh <- env:
		return true
	default:
		h.log.Warn("send buffer full, dropping event", zap.String("conn", string(id)), zap.String("event", string(env.Event)))
		return false
	}
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) register(s *clientSession) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

// unregister removes the session and closes its send channel. It reports
// false when the session was already gone.
func (h *Hub) unregister(id realtime.ConnectionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return false
	}
	delete(h.sessions, id)
	close(s.sendCh)
	return true
}

// CloseAll tells every session to close with a going-away frame.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	sessions := make([]*clientSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.shutdown()
	}
}
