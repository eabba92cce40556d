package ws

import (
	"context"
	"log/slog"
	"sync"

	"AstroBot/entity"
	"AstroBot/internal/lib/jsoncodec"
	"AstroBot/internal/lib/sl"
)

const (
	EventMessage      = "message"
	EventSessionReset = "session_reset"
)

// Event is what operators receive over the socket.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type frame struct {
	userKey string
	data    []byte
}

// Hub fans conversation events out to connected operator consoles.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan frame
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With(sl.Module("ws")),
	}
}

// Run is the hub's event loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case f := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(f.userKey) {
					continue
				}
				select {
				case client.send <- f.data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected consoles.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(userKey string, event *Event) {
	data, err := jsoncodec.Marshal(event)
	if err != nil {
		h.log.Error("encoding ws event", slog.String("type", event.Type), sl.Err(err))
		return
	}
	select {
	case h.broadcast <- frame{userKey: userKey, data: data}:
	default:
		h.log.Warn("ws broadcast queue full, event dropped", slog.String("type", event.Type))
	}
}

// BroadcastMessage sends a transcript line to all consoles watching its user.
func (h *Hub) BroadcastMessage(msg entity.ChatMessage) {
	h.publish(msg.UserKey, &Event{Type: EventMessage, Data: msg})
}

// BroadcastSessionReset tells consoles an operator dropped a session.
func (h *Hub) BroadcastSessionReset(userKey string) {
	h.publish(userKey, &Event{Type: EventSessionReset, Data: map[string]string{"user_key": userKey}})
}

// clientEvent is an incoming message from a console.
type clientEvent struct {
	Type    string `json:"type"`
	UserKey string `json:"user_key"`
}

// HandleClientMessage applies a console's "watch" or "unwatch" request.
func (h *Hub) HandleClientMessage(client *Client, raw []byte) {
	var event clientEvent
	if err := jsoncodec.Unmarshal(raw, &event); err != nil {
		h.log.Warn("failed to parse client ws message", sl.Err(err))
		return
	}
	switch event.Type {
	case "watch":
		client.setFilter(event.UserKey)
	case "unwatch":
		client.setFilter("")
	default:
		h.log.Debug("unknown ws message", slog.String("type", event.Type), slog.String("operator", client.operator))
	}
}
