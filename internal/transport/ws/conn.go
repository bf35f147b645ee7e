package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/code-room/internal/ratelimit"

	"github.com/gorilla/websocket"
)

var (
	ErrSlowConsumer = errors.New("ws: send buffer full")
	errClosed       = errors.New("ws: connection closed")
)

type wsConn struct {
	id      string
	remote  string
	conn    *websocket.Conn
	send    chan []byte
	closed  chan struct{}
	once    sync.Once
	inbound *ratelimit.Bucket

	// Session context. Only the dispatcher goroutine touches these.
	room   string
	user   string
	inRoom bool
}

func newWsConn(c *websocket.Conn, id, remote string, opts Options) *wsConn {
	wc := &wsConn{
		id:     id,
		remote: remote,
		conn:   c,
		send:   make(chan []byte, opts.SendBuffer),
		closed: make(chan struct{}),
	}
	if opts.MessagesPerSecond > 0 {
		wc.inbound = ratelimit.NewBucket(opts.MessagesPerSecond, opts.MessageBurst)
	}
	return wc
}

func (c *wsConn) ID() string { return c.id }

// Send queues data without blocking. A peer that cannot keep up is closed.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return errClosed
	default:
		slog.Warn("ws.send buffer full, closing", "conn", c.id)
		_ = c.Close()
		return ErrSlowConsumer
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// closeWith sends a close frame before tearing the socket down.
func (c *wsConn) closeWith(code int, reason string, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	_ = c.Close()
}

func (c *wsConn) writeLoop(pingEvery, writeWait time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("ws.write failed", "conn", c.id, "err", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}
