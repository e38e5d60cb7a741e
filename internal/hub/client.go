package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/metrics"
)

const (
	// writeWait is the deadline for a single outbound write.
	writeWait = 10 * time.Second

	// pongWait tolerates backgrounded mobile clients: the connection is only
	// dropped after five minutes of client silence.
	pongWait = 5 * time.Minute

	// pingPeriod is the server heartbeat interval.
	pingPeriod = 25 * time.Second

	// maxMessageSize caps a single inbound frame at 1 MiB.
	maxMessageSize = 1 << 20

	sendBufferSize = 256
)

// wsConnection is the subset of *websocket.Conn the client uses; mocked in
// tests.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Client is one transport connection. Two goroutines per client: readPump
// feeds inbound frames to the hub dispatcher, writePump drains the buffered
// send channel and keeps the heartbeat going.
type Client struct {
	ID   string
	conn wsConnection
	hub  *Hub

	// mu guards send against the disconnect path: a broadcast snapshotted
	// before the close must not write to a closed channel.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(id string, conn wsConnection, h *Hub) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		hub:  h,
	}
}

// enqueue hands a marshaled frame to the writer without blocking. A slow
// client loses frames rather than stalling the room; a closed client drops
// them outright.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "client send channel full, dropping frame",
			zap.String("connection_id", c.ID))
	}
}

func (c *Client) sendFrame(event string, payload any) {
	data, err := json.Marshal(outFrame{Event: event, Payload: payload})
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound frame",
			zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(data)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			logging.Warn(context.Background(), "malformed frame",
				zap.String("connection_id", c.ID), zap.Error(err))
			c.sendFrame("error", ErrorPayload{Message: "Malformed frame", Code: CodeInvalidMessage})
			continue
		}

		c.hub.dispatch(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close shuts the send channel exactly once, letting writePump emit the
// close frame and exit. Later enqueues see the closed flag and drop.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
