// Package wsconn adapts gorilla websocket connections to the relay
// dispatcher. Each connection runs a read pump and a write pump; the
// dispatcher only ever sees the non-blocking Send side.
package wsconn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/contenox/relay/relayservice"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Conn is one live websocket session. It satisfies relayservice.Conn.
type Conn struct {
	id     string
	ws     *websocket.Conn
	relay  relayservice.Service
	logger *slog.Logger
	send   chan []byte
}

func New(id string, ws *websocket.Conn, relay relayservice.Service, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		id:     id,
		ws:     ws,
		relay:  relay,
		logger: logger,
		send:   make(chan []byte, sendBuffer),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues a frame for the write pump. It never blocks: a client that
// stopped draining its socket loses frames instead of stalling the
// dispatcher.
func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

// Start registers the connection with the dispatcher and launches both
// pumps. The write pump may start after Connect returns; greeting frames
// wait in the send buffer until it does.
func (c *Conn) Start(ctx context.Context) error {
	if err := c.relay.Connect(ctx, c); err != nil {
		c.ws.Close()
		return err
	}
	go c.writePump()
	go c.readPump()
	return nil
}

func (c *Conn) readPump() {
	defer func() {
		if err := c.relay.Disconnect(context.Background(), c.id); err != nil && !errors.Is(err, relayservice.ErrClosed) {
			c.logger.Error("disconnect failed", "connection", c.id, "error", err)
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("read error", "connection", c.id, "error", err)
			}
			return
		}

		if err := c.relay.Frame(context.Background(), c.id, data); err != nil {
			if errors.Is(err, relayservice.ErrClosed) {
				return
			}
			c.logger.Error("frame dispatch failed", "connection", c.id, "error", err)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
