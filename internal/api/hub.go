package api

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is one connected display. Writes are serialized per connection.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	visible bool
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks connected displays and fans messages out to them. A display
// counts as visible from the moment it connects until it reports otherwise.
// onVisibility is called whenever the "any display visible" flag flips.
type Hub struct {
	notifyMu     sync.Mutex // orders visibility callbacks
	mu           sync.RWMutex
	clients      map[*websocket.Conn]*client
	anyVisible   bool
	onVisibility func(visible bool)
}

// NewHub creates an empty hub. onVisibility may be nil.
func NewHub(onVisibility func(visible bool)) *Hub {
	return &Hub{
		clients:      make(map[*websocket.Conn]*client),
		onVisibility: onVisibility,
	}
}

// AddClient registers a connection as a visible display.
func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &client{conn: conn, visible: true}
	h.mu.Unlock()
	h.recompute()
}

// RemoveClient unregisters and closes a connection.
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
	if ok {
		h.recompute()
	}
}

// SetVisible records a display's visibility report.
func (h *Hub) SetVisible(conn *websocket.Conn, visible bool) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		c.visible = visible
	}
	h.mu.Unlock()
	h.recompute()
}

// Visible reports whether at least one connected display is visible.
func (h *Hub) Visible() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.anyVisible
}

// Len returns the number of connected displays.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendJSON writes v to one display.
func (h *Hub) SendJSON(conn *websocket.Conn, v any) error {
	h.mu.RLock()
	c, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	return c.writeJSON(v)
}

// BroadcastJSON writes v to every display, dropping connections that fail.
func (h *Hub) BroadcastJSON(v any) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(v); err != nil {
			h.RemoveClient(c.conn)
		}
	}
}

// recompute refreshes anyVisible and fires onVisibility on a change.
func (h *Hub) recompute() {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	visible := false
	for _, c := range h.clients {
		if c.visible {
			visible = true
			break
		}
	}
	changed := visible != h.anyVisible
	h.anyVisible = visible
	fn := h.onVisibility
	h.mu.Unlock()

	if changed && fn != nil {
		fn(visible)
	}
}
