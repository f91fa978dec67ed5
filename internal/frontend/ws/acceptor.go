// Package ws is the WebSocket transport. It upgrades HTTP requests, reads
// the connection handshake from the query string, and pumps frames between
// each socket and the gateway.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/scenerelay/internal/config"
	"github.com/cory-johannsen/scenerelay/internal/game/session"
	"github.com/cory-johannsen/scenerelay/internal/observability"
	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

// Handler receives connection lifecycle events and inbound frames.
// The gateway Service implements it.
type Handler interface {
	Connect(peer session.Peer, hs protocol.Handshake) bool
	Deliver(peer session.Peer, frame []byte) bool
	Disconnect(peer session.Peer)
}

// Acceptor serves WebSocket upgrades on cfg.Path and hands each connection
// to a Handler.
type Acceptor struct {
	cfg      config.WebSocketConfig
	handler  Handler
	logger   *zap.Logger
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopped  bool
	conns    map[string]*Conn
}

// NewAcceptor creates a WebSocket acceptor.
//
// Precondition: handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready for ListenAndServe, or usable
// directly as an http.Handler.
func NewAcceptor(cfg config.WebSocketConfig, handler Handler, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		conns:   make(map[string]*Conn),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

func (a *Acceptor) checkOrigin(r *http.Request) bool {
	if len(a.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ListenAndServe starts the HTTP listener and serves upgrades until Stop is called.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Path, a)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		listener.Close()
		return nil
	}
	a.listener = listener
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	a.running = true
	srv := a.server
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

// Start satisfies server.Service.
func (a *Acceptor) Start() error {
	return a.ListenAndServe()
}

// ServeHTTP upgrades one request and runs its read loop until the client
// goes away.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs := protocol.HandshakeFromQuery(r.URL.Query())

	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := NewConn(uuid.NewString(), raw, a.cfg)
	if !a.track(conn) {
		conn.Close()
		conn.WritePump()
		return
	}
	defer a.untrack(conn)

	log := observability.ForConnection(a.logger, conn.ID(), conn.RemoteAddr())
	start := time.Now()
	log.Debug("client connected")

	go conn.WritePump()

	if !a.handler.Connect(conn, hs) {
		conn.Close()
		<-conn.Done()
		return
	}

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read loop ended", zap.Error(err))
			}
			break
		}
		if !a.handler.Deliver(conn, frame) {
			break
		}
	}

	a.handler.Disconnect(conn)
	conn.Close()
	<-conn.Done()

	log.Debug("client connection closed", zap.Duration("duration", time.Since(start)))
}

func (a *Acceptor) track(c *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.conns[c.ID()] = c
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(c *Conn) {
	a.mu.Lock()
	delete(a.conns, c.ID())
	a.mu.Unlock()
	a.wg.Done()
}

// Stop closes the listener and every open connection, then waits for all
// read loops to exit.
//
// Postcondition: All sockets are closed. Stop is idempotent.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	srv := a.server
	open := make([]*Conn, 0, len(a.conns))
	for _, c := range a.conns {
		open = append(open, c)
	}
	a.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	for _, c := range open {
		c.Close()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped", zap.Int("closed_connections", len(open)))
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
