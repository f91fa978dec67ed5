package ws

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/scenerelay/internal/config"
	"github.com/cory-johannsen/scenerelay/internal/game/session"
)

// ErrUnsupportedFrame is returned for inbound frames that are not text or binary.
var ErrUnsupportedFrame = errors.New("unsupported websocket frame type")

// Conn wraps an upgraded WebSocket connection. Reads happen on the caller's
// goroutine; writes are serialized through an Outbox drained by WritePump.
// Conn satisfies session.Peer.
type Conn struct {
	id     string
	remote string
	raw    *websocket.Conn
	outbox *session.Outbox

	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration

	done chan struct{}
}

// NewConn wraps raw using the timeouts and limits in cfg.
//
// Precondition: raw must be an open, upgraded connection; id must be non-empty.
// Postcondition: Returns a Conn whose read limit is cfg.MaxMessageBytes.
func NewConn(id string, raw *websocket.Conn, cfg config.WebSocketConfig) *Conn {
	if cfg.MaxMessageBytes > 0 {
		raw.SetReadLimit(cfg.MaxMessageBytes)
	}
	c := &Conn{
		id:           id,
		remote:       raw.RemoteAddr().String(),
		raw:          raw,
		outbox:       session.NewOutbox(id, cfg.OutboxSize),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	if c.readTimeout > 0 {
		c.pingInterval = c.readTimeout * 9 / 10
		raw.SetPongHandler(func(string) error {
			return raw.SetReadDeadline(time.Now().Add(c.readTimeout))
		})
	}
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the client address.
func (c *Conn) RemoteAddr() string { return c.remote }

// Push enqueues an encoded frame for the write pump.
func (c *Conn) Push(frame []byte) error {
	return c.outbox.Push(frame)
}

// Close stops accepting frames. The write pump flushes what is queued, sends
// a close frame and closes the socket.
//
// Postcondition: Close is idempotent.
func (c *Conn) Close() {
	c.outbox.Close()
}

// Done is closed once the socket has been closed by the write pump.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ReadFrame blocks for the next inbound data frame.
//
// Postcondition: Returns the frame payload, or an error once the peer has
// gone away, the read deadline passed, or the frame exceeded the read limit.
func (c *Conn) ReadFrame() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	kind, data, err := c.raw.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("frame type %d: %w", kind, ErrUnsupportedFrame)
	}
	return data, nil
}

// WritePump writes queued frames in order until the outbox is closed or a
// write fails, then closes the socket.
//
// Postcondition: The underlying socket is closed and Done is closed.
func (c *Conn) WritePump() {
	defer close(c.done)
	defer c.raw.Close()

	var pings <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case frame, ok := <-c.outbox.Frames():
			if !ok {
				_ = c.raw.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.writeDeadline()))
				return
			}
			_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeDeadline()))
			if err := c.raw.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.outbox.Close()
				return
			}
		case <-pings:
			if err := c.raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeDeadline())); err != nil {
				c.outbox.Close()
				return
			}
		}
	}
}

func (c *Conn) writeDeadline() time.Duration {
	if c.writeTimeout > 0 {
		return c.writeTimeout
	}
	return 10 * time.Second
}
