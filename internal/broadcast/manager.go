// Package broadcast pushes batched market updates to WebSocket clients.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// Manager is the fan-out hub. Incoming deltas are buffered per symbol
// with newer fields overwriting older ones, then flushed to every
// subscribed client on a fixed interval. A slow client therefore sees
// fewer, denser batches instead of an unbounded queue.
type Manager struct {
	cfg    *config.BroadcastConfig
	logger *logrus.Entry

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	bufferMu sync.Mutex
	buffer   map[string]*models.Update

	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewManager creates the broadcast hub.
func NewManager(cfg *config.BroadcastConfig, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		logger:     logger.WithField("component", "broadcast"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		buffer:     make(map[string]*models.Update),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// AddUpdate buffers one delta for the next flush. Updates for the same
// symbol merge, latest field value winning.
func (m *Manager) AddUpdate(update *models.Update) {
	m.bufferMu.Lock()
	defer m.bufferMu.Unlock()

	if existing, ok := m.buffer[update.Symbol]; ok {
		existing.Merge(update)
		return
	}
	// Own copy: the merge target must not alias the caller's map.
	cp := &models.Update{
		Symbol:    update.Symbol,
		Fields:    make(map[string]interface{}, len(update.Fields)),
		Timestamp: update.Timestamp,
	}
	for k, v := range update.Fields {
		cp.Fields[k] = v
	}
	m.buffer[update.Symbol] = cp
}

// Run drives registration and the flush loop until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return

		case client := <-m.register:
			m.clients[client] = true
			m.logger.WithField("clients", len(m.clients)).Debug("Client connected")

		case client := <-m.unregister:
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				m.logger.WithField("clients", len(m.clients)).Debug("Client disconnected")
			}

		case <-ticker.C:
			m.flush()
		}
	}
}

// flush drains the buffer and delivers each client its filtered batch.
func (m *Manager) flush() {
	m.bufferMu.Lock()
	if len(m.buffer) == 0 {
		m.bufferMu.Unlock()
		return
	}
	batch := m.buffer
	m.buffer = make(map[string]*models.Update)
	m.bufferMu.Unlock()

	updates := make([]*models.Update, 0, len(batch))
	for _, u := range batch {
		updates = append(updates, u)
	}

	for client := range m.clients {
		items := client.filter(updates)
		if len(items) == 0 {
			continue
		}

		msg := &models.BatchMessage{
			Type:      "update",
			Items:     items,
			Timestamp: m.now(),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			m.logger.WithError(err).Error("Failed to encode batch")
			continue
		}

		select {
		case client.send <- data:
		default:
			// Client cannot keep up even with batching; drop it.
			delete(m.clients, client)
			close(client.send)
			m.logger.Warn("Dropped unresponsive client")
		}
	}
}

func (m *Manager) shutdown() {
	for client := range m.clients {
		close(client.send)
	}
	m.clients = make(map[*Client]bool)
}

// ClientCount reports connected clients. Approximate: the hub goroutine
// owns the map.
func (m *Manager) ClientCount() int {
	return len(m.clients)
}

// HandleWebSocket upgrades the request and runs the client until it
// disconnects.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := newClient(conn, m)
	m.register <- client

	hello := &models.BatchMessage{Type: "connected", Timestamp: m.now()}
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	go client.writePump()
	go client.readPump()
}
