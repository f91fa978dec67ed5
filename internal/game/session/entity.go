// Package session tracks live client connections and owns the ordered
// outbound queue of each one.
package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrOutboxFull is returned when a slow consumer has let its queue fill.
	ErrOutboxFull = errors.New("outbox full")
	// ErrOutboxClosed is returned when pushing to a closed outbox.
	ErrOutboxClosed = errors.New("outbox closed")
)

// Outbox is a bounded FIFO of encoded frames for one connection. The
// gateway pushes; the connection's write pump drains Frames in order.
type Outbox struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox holding at most size frames.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel.
func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{
		id:     id,
		frames: make(chan []byte, size),
	}
}

// ID returns the owning connection id.
func (o *Outbox) ID() string {
	return o.id
}

// Push enqueues frame without blocking.
//
// Precondition: frame must be non-nil.
// Postcondition: frame is enqueued, or ErrOutboxClosed / ErrOutboxFull is returned.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("connection %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", o.id, ErrOutboxFull)
	}
}

// Frames returns the read side drained by the write pump. It is closed by Close.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	return len(o.frames)
}

// Close marks the outbox closed and closes the frames channel. Frames already
// queued remain readable.
//
// Postcondition: Further Push calls return ErrOutboxClosed. Close is idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
