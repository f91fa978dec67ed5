package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cory-johannsen/scenerelay/internal/game/character"
)

// Peer is the transport side of a connection as seen by the gateway.
type Peer interface {
	// ID returns the connection id assigned at accept time.
	ID() string
	// RemoteAddr returns the client address for logging.
	RemoteAddr() string
	// Push enqueues an encoded frame without blocking.
	Push(frame []byte) error
	// Close terminates the connection. It must be idempotent.
	Close()
}

// Session is one accepted connection and the player it controls.
type Session struct {
	Peer        Peer
	Player      *character.Player
	ConnectedAt time.Time

	limiter *rate.Limiter
}

// NewSession binds peer to player. A positive updateInterval throttles
// movement updates to one per interval.
//
// Precondition: peer and player must be non-nil.
func NewSession(peer Peer, player *character.Player, updateInterval time.Duration, now time.Time) *Session {
	s := &Session{
		Peer:        peer,
		Player:      player,
		ConnectedAt: now,
	}
	if updateInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(updateInterval), 1)
	}
	return s
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.Peer.ID()
}

// AllowUpdate reports whether a movement update arriving at now may be relayed.
func (s *Session) AllowUpdate(now time.Time) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.AllowN(now, 1)
}

// Manager tracks all live sessions.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Add registers s.
//
// Postcondition: Returns an error if a session with the same id is already registered.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := s.ID()
	if _, exists := m.sessions[id]; exists {
		return fmt.Errorf("connection %q already registered", id)
	}
	m.sessions[id] = s
	return nil
}

// Remove unregisters the session with id.
//
// Postcondition: Returns the removed session and true, or nil and false if absent.
func (m *Manager) Remove(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs returns the ids of all live sessions, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
