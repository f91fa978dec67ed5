// Package netclient is a WebSocket client for the relay server.
package netclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

// DefaultWriteTimeout bounds one outbound frame write.
const DefaultWriteTimeout = 5 * time.Second

// ErrClosed is returned by Emit after the connection has been closed.
var ErrClosed = errors.New("client closed")

// Options tunes a Client.
type Options struct {
	// WriteTimeout bounds one frame write. Zero uses DefaultWriteTimeout.
	WriteTimeout time.Duration
	// InboxSize is the buffer depth of Events.
	InboxSize int
}

// Client owns one relay connection. Emit is safe for concurrent use.
type Client struct {
	conn         *websocket.Conn
	logger       *zap.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex
	events  chan protocol.Envelope
	done    chan struct{}
	stop    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to endpoint and sends hs as query parameters.
//
// Precondition: endpoint is a ws:// or wss:// URL.
// Postcondition: Returns a running Client or the dial error.
func Dial(ctx context.Context, endpoint string, hs protocol.Handshake, opts Options, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	for k, vs := range hs.Query() {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.Redacted(), err)
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.InboxSize < 0 {
		opts.InboxSize = 0
	}
	c := &Client{
		conn:         conn,
		logger:       logger,
		writeTimeout: opts.WriteTimeout,
		events:       make(chan protocol.Envelope, opts.InboxSize),
		done:         make(chan struct{}),
		stop:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers decoded server frames in arrival order. It is closed when
// the connection ends.
func (c *Client) Events() <-chan protocol.Envelope { return c.events }

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, or nil for a normal close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.stopping() {
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("dropping undecodable frame", zap.Error(err))
			continue
		}
		select {
		case c.events <- env:
		case <-c.stop:
			return
		}
	}
}

func (c *Client) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Emit sends one event. Frames from concurrent callers are serialized.
func (c *Client) Emit(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stopping() {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}
	return nil
}

// Close sends a close frame and waits for the read loop to exit.
// It is idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.stop)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()

		select {
		case <-c.done:
		case <-time.After(c.writeTimeout):
		}
		err = c.conn.Close()
		<-c.done
	})
	return err
}
