package v1

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 64

// subscriber is one websocket connection listening on a session.
type subscriber struct {
	id        string
	sessionID string
	send      chan Frame
}

// Hub fans frames out to every websocket connection of a session, so that
// a turn run on one connection (or over REST) shows up on the others.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*subscriber
	logger   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]map[string]*subscriber),
		logger:   logger,
	}
}

// Subscribe registers a connection on sessionID. The returned func
// unregisters it and closes its send channel.
func (h *Hub) Subscribe(sessionID string) (*subscriber, func()) {
	sub := &subscriber{
		id:        uuid.NewString(),
		sessionID: sessionID,
		send:      make(chan Frame, subscriberBuffer),
	}

	h.mu.Lock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*subscriber)
	}
	h.sessions[sessionID][sub.id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() { h.remove(sub) })
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.sessions[sub.sessionID]; subs != nil {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.sessions, sub.sessionID)
		}
	}
	close(sub.send)
}

// Publish queues f for every subscriber of sessionID except exceptID.
// Slow subscribers whose buffer is full miss the frame.
func (h *Hub) Publish(sessionID, exceptID string, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.sessions[sessionID] {
		if id == exceptID {
			continue
		}
		select {
		case sub.send <- f:
		default:
			h.logger.Warn("subscriber buffer full, dropping frame",
				"session_id", sessionID, "subscriber", id, "type", f.Type)
		}
	}
}

// Subscribers returns the number of connections listening on sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SessionCount returns the number of sessions with listeners.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
