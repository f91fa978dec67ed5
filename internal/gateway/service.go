// Package gateway implements the connection gateway: it accepts clients,
// tracks which scene each player occupies, and relays scene traffic.
//
// All state is owned by one event-loop goroutine. Transports submit
// connect, message and disconnect events; each is handled to completion
// before the next, so scene membership needs no locking.
package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/scenerelay/internal/config"
	"github.com/cory-johannsen/scenerelay/internal/game/scene"
	"github.com/cory-johannsen/scenerelay/internal/game/session"
	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

// ErrStopped is returned when the gateway has been stopped.
var ErrStopped = errors.New("gateway stopped")

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
	eventStats
)

type event struct {
	kind      eventKind
	peer      session.Peer
	handshake protocol.Handshake
	frame     []byte
	at        time.Time
	reply     chan Stats
}

// Stats is a point-in-time view of gateway occupancy.
type Stats struct {
	Connections int
	Scenes      map[string]int
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the time source used for throttling and session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the connection gateway.
type Service struct {
	cfg      config.GatewayConfig
	registry *scene.Registry
	sessions *session.Manager
	logger   *zap.Logger
	now      func() time.Time

	inbox   chan event
	quit    chan struct{}
	done    chan struct{}
	serving atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool

	// evict collects slow consumers found during a broadcast; they are
	// disconnected once the current event completes.
	evict []string
}

// NewService creates a gateway over registry.
//
// Precondition: registry and logger must be non-nil; cfg must be valid.
// Postcondition: Returns a Service ready for Run or Start.
func NewService(cfg config.GatewayConfig, registry *scene.Registry, logger *zap.Logger, opts ...Option) *Service {
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	s := &Service{
		cfg:      cfg,
		registry: registry,
		sessions: session.NewManager(),
		logger:   logger,
		now:      time.Now,
		inbox:    make(chan event, inboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect submits a new connection with its handshake. The outcome is
// delivered to the peer: init on success, failed followed by Close otherwise.
//
// Postcondition: Returns false if the gateway is stopped.
func (s *Service) Connect(peer session.Peer, hs protocol.Handshake) bool {
	return s.submit(event{kind: eventConnect, peer: peer, handshake: hs})
}

// Deliver submits one inbound frame from peer.
//
// Postcondition: Returns false if the gateway is stopped.
func (s *Service) Deliver(peer session.Peer, frame []byte) bool {
	return s.submit(event{kind: eventMessage, peer: peer, frame: frame})
}

// Disconnect submits the loss of peer's transport. It is safe to call more than once.
func (s *Service) Disconnect(peer session.Peer) {
	s.submit(event{kind: eventDisconnect, peer: peer})
}

// Stats returns connection and per-scene counts as seen by the event loop.
// Because it round-trips through the loop, every event submitted earlier
// has been handled when it returns.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if !s.submit(event{kind: eventStats, reply: reply}) {
		return Stats{}, ErrStopped
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return Stats{}, ErrStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Serving reports whether the event loop is running.
func (s *Service) Serving() bool {
	return s.serving.Load()
}

// ConnectionCount returns the number of accepted connections.
func (s *Service) ConnectionCount() int {
	return s.sessions.Count()
}

func (s *Service) submit(ev event) bool {
	ev.at = s.now()
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// Run executes the event loop until ctx is cancelled or Stop is called.
//
// Precondition: Run may be called at most once.
// Postcondition: Every session is closed when Run returns.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("gateway already running")
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.done)
	s.serving.Store(true)
	defer s.serving.Store(false)

	s.logger.Info("gateway event loop started",
		zap.Int("max_connections", s.cfg.MaxConnections),
		zap.Duration("update_interval", s.cfg.UpdateInterval),
		zap.Strings("scenes", s.registry.Keys()),
	)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.quit:
			s.shutdown()
			return nil
		case ev := <-s.inbox:
			s.handle(ev)
			s.flushEvictions()
		}
	}
}

// Start runs the event loop until Stop is called. It satisfies server.Service.
func (s *Service) Start() error {
	return s.Run(context.Background())
}

// Stop ends the event loop and waits for it to exit.
//
// Postcondition: No further events are accepted. Stop is idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	close(s.quit)
	s.mu.Unlock()

	if started {
		<-s.done
	}
}

func (s *Service) shutdown() {
	s.serving.Store(false)
	ids := s.sessions.IDs()
	for _, id := range ids {
		if sess, ok := s.sessions.Remove(id); ok {
			if sc, ok := s.registry.Locate(sess.Player); ok {
				sc.RemovePlayer(id)
			}
			sess.Peer.Close()
		}
	}
	s.logger.Info("gateway event loop stopped", zap.Int("closed_sessions", len(ids)))
}

func (s *Service) handle(ev event) {
	switch ev.kind {
	case eventConnect:
		s.handleConnect(ev)
	case eventMessage:
		s.handleMessage(ev)
	case eventDisconnect:
		s.handleDisconnect(ev.peer.ID(), "transport closed")
	case eventStats:
		ev.reply <- Stats{
			Connections: s.sessions.Count(),
			Scenes:      s.registry.Occupancy(),
		}
	}
}

func (s *Service) flushEvictions() {
	for len(s.evict) > 0 {
		id := s.evict[0]
		s.evict = s.evict[1:]
		s.handleDisconnect(id, "slow consumer")
	}
}
