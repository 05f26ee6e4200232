package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// TickerHandler receives each live 24h ticker observation.
type TickerHandler func(*models.Ticker)

// KlineHandler receives each live candle update. closed reports whether
// the bar has finished.
type KlineHandler func(candle *models.Candle, closed bool)

// The exchange caps subscription commands, so stream names are sent in
// chunks.
const subscribeChunkSize = 100

// StreamClient is one combined-stream WebSocket connection. Subscriptions
// are managed with SUBSCRIBE/UNSUBSCRIBE commands after connecting, which
// keeps the URL short regardless of universe size.
type StreamClient struct {
	url    string
	logger *logrus.Entry

	conn    *websocket.Conn
	writeMu sync.Mutex

	onTicker TickerHandler
	onKline  KlineHandler

	connected atomic.Bool
	requestID atomic.Int64
	done      chan struct{}
}

// streamCommand is the subscription management frame.
type streamCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// NewStreamClient creates a stream client. Handlers must be registered
// before Connect.
func NewStreamClient(cfg *config.ExchangeConfig, logger *logrus.Logger) *StreamClient {
	return &StreamClient{
		url:    cfg.StreamURL,
		logger: logger.WithField("component", "exchange-stream"),
	}
}

// OnTicker registers the ticker handler.
func (sc *StreamClient) OnTicker(handler TickerHandler) {
	sc.onTicker = handler
}

// OnKline registers the kline handler.
func (sc *StreamClient) OnKline(handler KlineHandler) {
	sc.onKline = handler
}

// Connect dials the stream endpoint and starts the read loop.
func (sc *StreamClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, sc.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", sc.url, err)
	}

	sc.conn = conn
	sc.done = make(chan struct{})
	sc.connected.Store(true)

	conn.SetPingHandler(func(payload string) error {
		sc.writeMu.Lock()
		defer sc.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(5*time.Second))
	})

	go sc.readLoop()

	sc.logger.WithField("url", sc.url).Info("Stream connected")
	return nil
}

// IsConnected reports whether the read loop is alive.
func (sc *StreamClient) IsConnected() bool {
	return sc.connected.Load()
}

// Done is closed when the read loop exits, which signals the supervisor
// to reconnect.
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Subscribe adds stream names to the connection in chunks.
func (sc *StreamClient) Subscribe(streams []string) error {
	return sc.sendCommand("SUBSCRIBE", streams)
}

func (sc *StreamClient) sendCommand(method string, streams []string) error {
	if !sc.connected.Load() {
		return fmt.Errorf("not connected")
	}

	for start := 0; start < len(streams); start += subscribeChunkSize {
		end := start + subscribeChunkSize
		if end > len(streams) {
			end = len(streams)
		}

		cmd := streamCommand{
			Method: method,
			Params: streams[start:end],
			ID:     sc.requestID.Add(1),
		}

		sc.writeMu.Lock()
		err := sc.conn.WriteJSON(cmd)
		sc.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to send %s for %d streams: %w", method, end-start, err)
		}
	}

	sc.logger.WithFields(logrus.Fields{
		"method":  method,
		"streams": len(streams),
	}).Debug("Sent subscription command")
	return nil
}

// Close tears the connection down and waits for the read loop to exit.
func (sc *StreamClient) Close() error {
	if !sc.connected.Load() {
		return nil
	}

	sc.writeMu.Lock()
	sc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	sc.writeMu.Unlock()

	err := sc.conn.Close()
	<-sc.done
	return err
}

func (sc *StreamClient) readLoop() {
	defer func() {
		sc.connected.Store(false)
		close(sc.done)
	}()

	for {
		_, data, err := sc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.logger.WithError(err).Warn("Stream read failed")
			}
			return
		}
		sc.dispatch(data)
	}
}

func (sc *StreamClient) dispatch(data []byte) {
	var envelope streamEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Stream == "" {
		// Subscription command acks arrive outside the envelope.
		return
	}

	switch {
	case strings.HasSuffix(envelope.Stream, "@ticker"):
		if sc.onTicker == nil {
			return
		}
		var event tickerEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			sc.logger.WithError(err).WithField("stream", envelope.Stream).Warn("Bad ticker event")
			return
		}
		ticker, err := event.toModel()
		if err != nil {
			sc.logger.WithError(err).WithField("stream", envelope.Stream).Warn("Unusable ticker event")
			return
		}
		sc.onTicker(ticker)

	case strings.Contains(envelope.Stream, "@kline_"):
		if sc.onKline == nil {
			return
		}
		var event klineEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			sc.logger.WithError(err).WithField("stream", envelope.Stream).Warn("Bad kline event")
			return
		}
		candle, err := event.toModel()
		if err != nil {
			sc.logger.WithError(err).Warn("Unusable kline event")
			return
		}
		sc.onKline(candle, event.Kline.Closed)
	}
}
