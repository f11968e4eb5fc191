package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	// sendQueueSize buffers outbound messages; a client that cannot keep up
	// is dropped rather than allowed to stall the broadcast path.
	sendQueueSize = 256
)

var errSendQueueFull = errors.New("send queue full")

// wsConn adapts one gorilla websocket to the conns.Conn interface. Writes
// go through a buffered channel consumed by a single writer goroutine, so
// Send is safe from any goroutine and never blocks the caller.
type wsConn struct {
	id   string
	sock *websocket.Conn
	send chan protocol.ServerMessage
	stop chan struct{}
	log  *observability.Logger
}

func newWSConn(id string, sock *websocket.Conn, log *observability.Logger) *wsConn {
	return &wsConn{
		id:   id,
		sock: sock,
		send: make(chan protocol.ServerMessage, sendQueueSize),
		stop: make(chan struct{}),
		log:  log,
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues a message for the writer goroutine. A full queue or a closed
// connection returns an error, which the connection set treats as fatal
// for this connection.
func (c *wsConn) Send(msg protocol.ServerMessage) error {
	select {
	case <-c.stop:
		return errors.New("connection closed")
	case c.send <- msg:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close sends a close frame and stops the writer. Safe to call more than
// once.
func (c *wsConn) Close(code int, reason string) {
	select {
	case <-c.stop:
		return
	default:
		close(c.stop)
	}
	deadline := time.Now().Add(writeWait)
	_ = c.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.sock.Close()
}

// writeLoop drains the send queue and keeps the connection alive with
// pings. It owns all writes to the socket.
func (c *wsConn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.CloseGoingAway, "server shutting down")
			return
		case <-c.stop:
			return
		case msg := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(msg); err != nil {
				c.log.Debug(ctx, "websocket write failed", "conn_id", c.id, "error", err)
				c.Close(websocket.CloseInternalServerErr, "write failure")
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseInternalServerErr, "ping failure")
				return
			}
		}
	}
}

// readLoop delivers inbound frames to handle until the connection dies.
func (c *wsConn) readLoop(ctx context.Context, handle func(raw []byte)) {
	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug(ctx, "websocket closed unexpectedly", "conn_id", c.id, "error", err)
			}
			return
		}
		handle(raw)
	}
}
