// Package realtime fans booking events out to websocket subscribers.
package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	// labs filters delivery; empty means every lab.
	labs map[string]bool
}

func (c *client) wants(labs []string) bool {
	if len(c.labs) == 0 || len(labs) == 0 {
		return true
	}
	for _, lab := range labs {
		if c.labs[lab] {
			return true
		}
	}
	return false
}

// Hub tracks connected subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers event to every subscriber interested in one of labs.
// Slow subscribers miss the message rather than stall the caller.
func (h *Hub) Broadcast(event interface{}, labs ...string) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(labs) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping realtime message for slow subscriber")
		}
	}
	return nil
}

// Serve registers conn and pumps messages until the peer disconnects.
func (h *Hub) Serve(conn *websocket.Conn, labs []string) {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		labs: make(map[string]bool),
	}
	for _, lab := range labs {
		if lab = normalize(lab); lab != "" {
			c.labs[lab] = true
		}
	}

	h.register(c)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

type clientMessage struct {
	Type    string `json:"type"`
	LabCode string `json:"lab_code"`
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("realtime read failed", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		lab := normalize(msg.LabCode)
		if lab == "" {
			continue
		}
		h.mu.Lock()
		switch msg.Type {
		case "subscribe":
			c.labs[lab] = true
		case "unsubscribe":
			delete(c.labs, lab)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func normalize(lab string) string {
	return strings.ToUpper(strings.TrimSpace(lab))
}
