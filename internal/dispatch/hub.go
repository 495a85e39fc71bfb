// Package dispatch streams accepted schedule updates to websocket clients.
package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/observability"
)

const (
	sendBuffer = 32
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Update is the message pushed to every interested client.
type Update struct {
	City        string `json:"city"`
	Date        string `json:"date"`
	IsScheduled bool   `json:"is_scheduled"`
	IsEmpty     bool   `json:"is_empty"`
}

// Conn is the subset of *websocket.Conn the hub writes to.
type Conn interface {
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	conn   Conn
	cities map[string]bool
	send   chan Update
	done   chan struct{}
	once   sync.Once
}

func (c *client) wants(city string) bool {
	return len(c.cities) == 0 || c.cities[city]
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans schedule updates out to websocket clients. Publish never blocks:
// a client whose buffer is full is disconnected.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*client]struct{})}
}

// Publish has the schedule subscriber shape.
func (h *Hub) Publish(city, day string, status models.ScheduleStatus) {
	u := Update{City: city, Date: day, IsScheduled: status.IsScheduled, IsEmpty: status.IsEmpty}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(city) {
			continue
		}
		select {
		case c.send <- u:
		default:
			h.logger.Warn("ws client too slow, dropping")
			c.stop()
		}
	}
}

// Add registers conn and starts its writer. Only updates for cities are sent;
// an empty list means all cities. The returned func unregisters the client
// and closes the connection.
func (h *Hub) Add(conn Conn, cities []string) func() {
	c := &client{conn: conn, cities: make(map[string]bool), send: make(chan Update, sendBuffer), done: make(chan struct{})}
	for _, city := range cities {
		c.cities[city] = true
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	observability.WSClientsConnected.Set(float64(n))

	go h.writeLoop(c)
	return func() { h.remove(c) }
}

func (h *Hub) remove(c *client) {
	c.stop()
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		observability.WSClientsConnected.Set(float64(n))
		_ = c.conn.Close()
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()
	for {
		select {
		case <-c.done:
			return
		case u := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(u); err != nil {
				h.logger.Debug("ws send error", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	h.mu.RUnlock()
	for _, c := range list {
		h.remove(c)
	}
}

// ReadPump drains client frames until the peer goes away, keeping pong
// deadlines current. It blocks; call it from the handler goroutine.
func ReadPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
