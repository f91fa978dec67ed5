package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/scenerelay/internal/config"
)

// GatewayHealthService is the health service name reported for the gateway.
const GatewayHealthService = "scenerelay.Gateway"

// Probe reports whether a component is able to serve.
type Probe func() bool

// HealthServer exposes the standard gRPC health protocol. A watcher polls
// probe and flips both the overall ("") and GatewayHealthService statuses.
type HealthServer struct {
	addr     string
	probe    Probe
	interval time.Duration
	logger   *zap.Logger

	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	stopped  bool
	watchWG  sync.WaitGroup
}

// NewHealthServer creates a health server on cfg.Addr().
//
// Precondition: probe and logger must be non-nil.
// Postcondition: Both statuses start NOT_SERVING until the first probe.
func NewHealthServer(cfg config.HealthConfig, probe Probe, logger *zap.Logger) *HealthServer {
	h := &HealthServer{
		addr:     cfg.Addr(),
		probe:    probe,
		interval: 500 * time.Millisecond,
		logger:   logger,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		quit:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetInterval changes the probe period. It must be called before Serve.
func (h *HealthServer) SetInterval(d time.Duration) {
	if d > 0 {
		h.interval = d
	}
}

// Start listens on the configured address and serves until Stop.
func (h *HealthServer) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	return h.Serve(lis)
}

// Serve serves health checks on lis until Stop.
//
// Postcondition: lis is closed when Serve returns.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		lis.Close()
		return nil
	}
	h.listener = lis
	h.watchWG.Add(1)
	h.mu.Unlock()

	go h.watch()

	h.logger.Info("health server listening", zap.String("addr", lis.Addr().String()))
	if err := h.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving health: %w", err)
	}
	return nil
}

func (h *HealthServer) watch() {
	defer h.watchWG.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if h.probe() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		if status != last {
			h.setStatus(status)
			h.logger.Info("health status changed", zap.String("status", status.String()))
			last = status
		}
		select {
		case <-h.quit:
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(GatewayHealthService, status)
}

// Stop reports NOT_SERVING to watchers and stops the gRPC server.
//
// Postcondition: Stop is idempotent.
func (h *HealthServer) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	close(h.quit)
	h.mu.Unlock()

	h.watchWG.Wait()
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
