package server

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cory-johannsen/scenerelay/internal/config"
)

func startBufHealth(t *testing.T, probe Probe) (healthpb.HealthClient, *HealthServer) {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	hs := NewHealthServer(config.HealthConfig{GRPCHost: "127.0.0.1", GRPCPort: 0}, probe, zaptest.NewLogger(t))
	hs.SetInterval(10 * time.Millisecond)

	served := make(chan error, 1)
	go func() { served <- hs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		hs.Stop()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("health server did not stop")
		}
	})
	return healthpb.NewHealthClient(conn), hs
}

func checkStatus(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthServerFollowsProbe(t *testing.T) {
	var up atomic.Bool
	client, _ := startBufHealth(t, up.Load)

	require.Eventually(t, func() bool {
		return checkStatus(t, client, GatewayHealthService) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	up.Store(true)
	require.Eventually(t, func() bool {
		return checkStatus(t, client, GatewayHealthService) == healthpb.HealthCheckResponse_SERVING &&
			checkStatus(t, client, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	up.Store(false)
	require.Eventually(t, func() bool {
		return checkStatus(t, client, GatewayHealthService) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthServerStopIsIdempotent(t *testing.T) {
	_, hs := startBufHealth(t, func() bool { return true })
	hs.Stop()
	hs.Stop()
}
