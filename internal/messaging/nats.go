// Package messaging carries symbol update deltas from the ingestion
// pipeline to the broadcast layer over NATS JetStream.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// NATSClient handles NATS messaging operations.
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	cfg    *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.RWMutex
}

// NewNATSClient creates a new NATS client and declares the streams it
// publishes to.
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	nc := &NATSClient{
		conn:   conn,
		js:     js,
		logger: logger.WithField("component", "nats"),
		cfg:    cfg,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := nc.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return nc, nil
}

// Close unsubscribes everything and closes the connection.
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected.
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

func (nc *NATSClient) initializeStreams() error {
	// Update deltas are push traffic, not a system of record. Memory
	// storage with a short retention keeps restarts from replaying
	// stale batches to clients.
	_, err := nc.js.AddStream(&nats.StreamConfig{
		Name:     "UPDATES",
		Subjects: []string{"updates.>"},
		Storage:  nats.MemoryStorage,
		MaxAge:   time.Hour,
		MaxMsgs:  1000000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create UPDATES stream: %w", err)
	}
	return nil
}

// Update operations

// PublishUpdate publishes one symbol's changed-field delta.
func (nc *NATSClient) PublishUpdate(update *models.Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	subject := fmt.Sprintf("updates.%s", update.Symbol)
	future, err := nc.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}

	select {
	case <-future.Ok():
		return nil
	case err := <-future.Err():
		return fmt.Errorf("failed to publish update: %w", err)
	case <-time.After(2 * time.Second):
		return fmt.Errorf("publish timeout for subject %s", subject)
	}
}

// SubscribeUpdates subscribes to update deltas for all symbols.
func (nc *NATSClient) SubscribeUpdates(handler func(*models.Update)) error {
	subject := "updates.>"

	sub, err := nc.conn.Subscribe(subject, func(msg *nats.Msg) {
		var update models.Update
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			nc.logger.WithError(err).Warn("Failed to decode update message")
			return
		}
		handler(&update)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to updates: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	return nil
}

// Drain flushes pending messages and closes subscriptions gracefully.
func (nc *NATSClient) Drain() error {
	return nc.conn.Drain()
}
