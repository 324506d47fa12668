package messaging

import (
	"context"
	"sync"

	"attendance.edge/internal/core/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Hub keeps track of open foreground contexts and fans broadcasts out to them.
// It implements Publisher, Subscriber and Clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
	order   []string
	// pending holds URLs a new window was asked to open at; the next context to connect navigates there.
	pending []string
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*hubClient)}
}

type hubClient struct {
	id      string
	url     string
	handler Handler
}

func (c *hubClient) ID() string  { return c.id }
func (c *hubClient) URL() string { return c.url }

func (c *hubClient) Focus(ctx context.Context) error {
	c.handler(model.ClientMessage{Type: model.MessageFocus})
	return nil
}

func (c *hubClient) Post(msg model.ClientMessage) {
	c.handler(msg)
}

// Subscribe registers a foreground context currently showing url.
// The returned function unregisters it.
func (h *Hub) Subscribe(url string, handler Handler) (Client, func()) {
	c := &hubClient{id: uuid.NewString(), url: url, handler: handler}

	h.mu.Lock()
	h.clients[c.id] = c
	h.order = append(h.order, c.id)
	var navigate string
	if len(h.pending) > 0 {
		navigate, h.pending = h.pending[0], h.pending[1:]
	}
	total := len(h.clients)
	h.mu.Unlock()

	log.Debug().Str("client_id", c.id).Str("url", url).Int("total", total).Msg("Client connected")

	if navigate != "" {
		c.Post(model.ClientMessage{Type: model.MessageNavigate, URL: navigate})
	}

	var once sync.Once
	return c, func() {
		once.Do(func() { h.remove(c.id) })
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	log.Debug().Str("client_id", id).Int("total", len(h.clients)).Msg("Client disconnected")
}

// Publish delivers msg to every client connected at the time of the call.
func (h *Hub) Publish(ctx context.Context, msg model.ClientMessage) {
	clients := h.MatchAll()
	for _, c := range clients {
		c.Post(msg)
	}
	log.Ctx(ctx).Debug().Str("type", msg.Type).Int("clients", len(clients)).Msg("Broadcast to clients")
}

// MatchAll returns open clients in connection order.
func (h *Hub) MatchAll() []Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Client, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.clients[id])
	}
	return out
}

// OpenWindow records that a new context should open at url.
// The first context to connect afterwards is told to navigate there.
func (h *Hub) OpenWindow(ctx context.Context, url string) error {
	h.mu.Lock()
	h.pending = append(h.pending, url)
	h.mu.Unlock()

	log.Ctx(ctx).Info().Str("url", url).Msg("Queued window open")
	return nil
}

// PendingWindows returns the URLs waiting for a context to open them.
func (h *Hub) PendingWindows() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.pending...)
}
