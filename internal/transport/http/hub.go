package http

import (
	"sync"

	"github.com/rs/zerolog"

	"quizlive-service/internal/domain"
)

const clientBuffer = 32

// client is one websocket attachment to a session room.
type client struct {
	send          chan domain.Event
	participantID string // empty for hosts
	host          bool

	mu         sync.Mutex
	closed     bool
	superseded bool
}

// shut closes the send channel exactly once. Deliveries racing with shut see
// the closed flag under the client mutex and drop the event instead.
func (c *client) shut(superseded bool) {
	c.mu.Lock()
	if superseded {
		c.superseded = true
	}
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// wasSuperseded reports whether a newer attachment for the same participant
// displaced this one.
func (c *client) wasSuperseded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.superseded
}

type room struct {
	clients       map[*client]struct{}
	byParticipant map[string]*client
}

// Hub fans events out to the websocket clients of each session. It implements
// app.Broadcaster. Delivery is fire-and-forget: a client whose buffer is full
// loses the event rather than stalling the room.
type Hub struct {
	log   zerolog.Logger
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		log:   logger.With().Str("component", "hub").Logger(),
		rooms: make(map[string]*room),
	}
}

// register attaches a client to a session room and returns it. A participant
// reconnecting displaces their previous attachment.
func (h *Hub) register(code, participantID string, host bool) *client {
	code = domain.NormalizeCode(code)
	c := &client{
		send:          make(chan domain.Event, clientBuffer),
		participantID: participantID,
		host:          host,
	}

	h.mu.Lock()
	r, ok := h.rooms[code]
	if !ok {
		r = &room{
			clients:       make(map[*client]struct{}),
			byParticipant: make(map[string]*client),
		}
		h.rooms[code] = r
	}
	if participantID != "" {
		if prev, ok := r.byParticipant[participantID]; ok {
			delete(r.clients, prev)
			prev.shut(true)
		}
		r.byParticipant[participantID] = c
	}
	r.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// unregister detaches a client and closes its send channel.
func (h *Hub) unregister(code string, c *client) {
	code = domain.NormalizeCode(code)
	h.mu.Lock()
	r, ok := h.rooms[code]
	if ok {
		if _, attached := r.clients[c]; attached {
			delete(r.clients, c)
			if c.participantID != "" && r.byParticipant[c.participantID] == c {
				delete(r.byParticipant, c.participantID)
			}
			c.shut(false)
		}
		if len(r.clients) == 0 {
			delete(h.rooms, code)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers an event to every client in the session room.
func (h *Hub) Broadcast(code string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[domain.NormalizeCode(code)]
	if !ok {
		return
	}
	for c := range r.clients {
		h.deliver(c, ev)
	}
}

// SendToParticipant delivers an event to one participant's attachment.
func (h *Hub) SendToParticipant(code, participantID string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[domain.NormalizeCode(code)]
	if !ok {
		return
	}
	if c, ok := r.byParticipant[participantID]; ok {
		h.deliver(c, ev)
	}
}

// SendToHost delivers an event to every host attachment in the room.
func (h *Hub) SendToHost(code string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[domain.NormalizeCode(code)]
	if !ok {
		return
	}
	for c := range r.clients {
		if c.host {
			h.deliver(c, ev)
		}
	}
}

func (h *Hub) deliver(c *client, ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		h.log.Warn().Str("type", string(ev.Type)).Str("participant", c.participantID).
			Msg("client buffer full, event dropped")
	}
}
