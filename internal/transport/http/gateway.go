package http

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"trivia-session-service/internal/app"
)

const clientBufferSize = 32

// Hub is the broadcast gateway: it fans events out to the sockets subscribed to a session.
// Delivery never blocks the caller; when a client's buffer is full the oldest queued
// message is dropped, and that client reconciles through a sync request.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[string]*client // code -> client id -> client
}

type client struct {
	id       string
	code     string
	playerID string
	send     chan outboundMessage[any]
	done     chan struct{}
	once     sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:      logger,
		sessions: make(map[string]map[string]*client),
	}
}

// Register subscribes a new connection of playerID to session code.
func (h *Hub) Register(code, playerID string) *client {
	c := &client{
		id:       uuid.NewString(),
		code:     code,
		playerID: playerID,
		send:     make(chan outboundMessage[any], clientBufferSize),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.sessions[code]
	if !ok {
		clients = make(map[string]*client)
		h.sessions[code] = clients
	}
	clients[c.id] = c
	return c
}

// Unregister drops the connection and reports how many other connections of the same
// player remain subscribed to the session.
func (h *Hub) Unregister(c *client) int {
	c.once.Do(func() { close(c.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sessions[c.code]
	delete(clients, c.id)
	if len(clients) == 0 {
		delete(h.sessions, c.code)
		return 0
	}
	remaining := 0
	for _, other := range clients {
		if other.playerID == c.playerID {
			remaining++
		}
	}
	return remaining
}

// Connections reports the number of sockets subscribed to code.
func (h *Hub) Connections(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[code])
}

func (h *Hub) BroadcastToSession(code string, event app.Event) {
	msg := outboundMessage[any]{Type: event.Name, Seq: event.Seq, Payload: event.Payload}
	for _, c := range h.recipients(code, "") {
		h.deliver(c, msg)
	}
}

func (h *Hub) SendToPlayer(code, playerID string, event app.Event) {
	msg := outboundMessage[any]{Type: event.Name, Seq: event.Seq, Payload: event.Payload}
	for _, c := range h.recipients(code, playerID) {
		h.deliver(c, msg)
	}
}

func (h *Hub) recipients(code, playerID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.sessions[code]))
	for _, c := range h.sessions[code] {
		if playerID == "" || c.playerID == playerID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) deliver(c *client, msg outboundMessage[any]) {
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case <-c.done:
			return
		case c.send <- msg:
			return
		default:
		}
		// full: make room by discarding the oldest message
		select {
		case dropped := <-c.send:
			h.log.Debug("dropped event for slow client", "code", c.code, "player", c.playerID, "type", dropped.Type)
		default:
		}
	}
}
