package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signal-back/pkg/models"
)

// subscribeAll is the wildcard subscription.
const subscribeAll = "*"

// Client is one WebSocket subscriber. New clients start subscribed to
// everything; a subscribe message replaces the set.
type Client struct {
	conn    *websocket.Conn
	manager *Manager
	send    chan []byte

	mu      sync.RWMutex
	symbols map[string]bool
}

// clientCommand is the inbound subscription control frame.
type clientCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

func newClient(conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		conn:    conn,
		manager: manager,
		send:    make(chan []byte, 64),
		symbols: map[string]bool{subscribeAll: true},
	}
}

// filter returns the subset of updates this client subscribed to.
func (c *Client) filter(updates []*models.Update) []*models.Update {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.symbols[subscribeAll] {
		return updates
	}

	var items []*models.Update
	for _, u := range updates {
		if c.symbols[u.Symbol] {
			items = append(items, u)
		}
	}
	return items
}

func (c *Client) subscribe(symbols []string) {
	c.mu.Lock()
	c.symbols = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		c.symbols[s] = true
	}
	c.mu.Unlock()
}

func (c *Client) unsubscribe(symbols []string) {
	c.mu.Lock()
	for _, s := range symbols {
		delete(c.symbols, s)
	}
	c.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.manager.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					c.manager.logger.WithError(err).Debug("Write error")
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.cfg.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.manager.logger.WithError(err).Debug("WebSocket closed unexpectedly")
			}
			return
		}
		c.handleCommand(message)
	}
}

func (c *Client) handleCommand(data []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return
	}

	switch cmd.Type {
	case "subscribe":
		c.subscribe(cmd.Symbols)
	case "unsubscribe":
		c.unsubscribe(cmd.Symbols)
	}
}
