package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/scenerelay/internal/config"
	"github.com/cory-johannsen/scenerelay/internal/game/scene"
	"github.com/cory-johannsen/scenerelay/internal/gateway"
	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Host:            "127.0.0.1",
		Port:            0,
		Path:            "/ws",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxMessageBytes: 1024,
		OutboxSize:      64,
	}
}

type relay struct {
	gw  *gateway.Service
	acc *Acceptor
	srv *httptest.Server
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg, err := scene.NewRegistry("",
		scene.NewScene("scene-1", scene.Settings{}, nil),
		scene.NewScene("scene-2", scene.Settings{}, nil),
	)
	require.NoError(t, err)

	gw := gateway.NewService(config.GatewayConfig{MaxConnections: 10, InboxSize: 64}, reg, logger)
	go func() { _ = gw.Run(context.Background()) }()

	acc := NewAcceptor(testWSConfig(), gw, logger)
	srv := httptest.NewServer(acc)
	t.Cleanup(func() {
		acc.Stop()
		srv.Close()
		gw.Stop()
	})
	return &relay{gw: gw, acc: acc, srv: srv}
}

func (r *relay) dial(t *testing.T, hs protocol.Handshake) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws?" + hs.Query().Encode()
	c, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readEnvelope(t *testing.T, c *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func expectEvent(t *testing.T, c *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	env := readEnvelope(t, c)
	require.Equal(t, event, env.Event)
	return env
}

func writeEvent(t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, frame))
}

func TestAcceptor_RelaysBetweenClients(t *testing.T) {
	r := newRelay(t)

	alice := r.dial(t, protocol.Handshake{Username: "alice", ModelID: "2", SceneKey: "scene-1"})
	initEnv := expectEvent(t, alice, protocol.EventInit)
	var hello protocol.Init
	require.NoError(t, initEnv.DecodeData(&hello))
	require.NotEmpty(t, hello.ID)
	expectEvent(t, alice, protocol.EventPlayerJoined)

	bob := r.dial(t, protocol.Handshake{Username: "bob", SceneKey: "scene-1"})
	expectEvent(t, bob, protocol.EventInit)
	expectEvent(t, bob, protocol.EventPlayerJoined)

	joined := expectEvent(t, alice, protocol.EventPlayerJoined)
	var bobInfo protocol.PlayerInfo
	require.NoError(t, joined.DecodeData(&bobInfo))
	assert.Equal(t, "bob", bobInfo.Username)

	pos := protocol.Vec3{1, 0, 1}
	rot := protocol.Quat{0, 0, 0, 1}
	writeEvent(t, alice, protocol.EventClientUpdatePlayer, protocol.ClientUpdatePlayer{
		VisitorID:     hello.ID,
		Delta:         0.016,
		KeysPressed:   map[string]bool{"KeyW": true},
		SceneKey:      "scene-1",
		SpawnPosition: &pos,
		SpawnRotation: &rot,
	})
	upd := expectEvent(t, bob, protocol.EventClientUpdatePlayer)
	var got protocol.ClientUpdatePlayer
	require.NoError(t, upd.DecodeData(&got))
	assert.Equal(t, hello.ID, got.VisitorID)
	assert.Equal(t, pos, *got.SpawnPosition)

	require.NoError(t, bob.Close())
	left := expectEvent(t, alice, protocol.EventPlayerLeft)
	var pl protocol.PlayerLeft
	require.NoError(t, left.DecodeData(&pl))
	assert.Equal(t, bobInfo.ID, pl.ID)
}

func TestAcceptor_RejectedHandshakeClosesSocket(t *testing.T) {
	r := newRelay(t)

	c := r.dial(t, protocol.Handshake{SceneKey: "scene-1"})
	env := expectEvent(t, c, protocol.EventFailed)
	var failed protocol.Failed
	require.NoError(t, env.DecodeData(&failed))
	assert.Equal(t, gateway.MsgInvalidCredentials, failed.Message)

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestAcceptor_OversizedFrameDisconnects(t *testing.T) {
	r := newRelay(t)

	alice := r.dial(t, protocol.Handshake{Username: "alice"})
	expectEvent(t, alice, protocol.EventInit)
	expectEvent(t, alice, protocol.EventPlayerJoined)

	bob := r.dial(t, protocol.Handshake{Username: "bob"})
	expectEvent(t, bob, protocol.EventInit)
	expectEvent(t, bob, protocol.EventPlayerJoined)
	expectEvent(t, alice, protocol.EventPlayerJoined)

	big := strings.Repeat("x", 4096)
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(big)))

	expectEvent(t, alice, protocol.EventPlayerLeft)
}

func TestAcceptor_StopClosesClients(t *testing.T) {
	r := newRelay(t)

	c := r.dial(t, protocol.Handshake{Username: "alice"})
	expectEvent(t, c, protocol.EventInit)
	expectEvent(t, c, protocol.EventPlayerJoined)

	r.acc.Stop()

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	assert.False(t, r.acc.IsRunning())
}

func TestAcceptor_ListenAndServe(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg, err := scene.NewRegistry("", scene.NewScene("scene-1", scene.Settings{}, nil))
	require.NoError(t, err)
	gw := gateway.NewService(config.GatewayConfig{MaxConnections: 2}, reg, logger)
	go func() { _ = gw.Run(context.Background()) }()
	defer gw.Stop()

	acc := NewAcceptor(testWSConfig(), gw, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- acc.ListenAndServe() }()

	require.Eventually(t, func() bool { return acc.IsRunning() && acc.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	u := url.URL{Scheme: "ws", Host: acc.Addr(), Path: "/ws", RawQuery: protocol.Handshake{Username: "carol"}.Query().Encode()}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer c.Close()
	expectEvent(t, c, protocol.EventInit)

	acc.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acceptor did not stop in time")
	}
}

func TestCheckOrigin(t *testing.T) {
	cfg := testWSConfig()
	cfg.AllowedOrigins = []string{"https://play.example.com"}
	acc := NewAcceptor(cfg, nil, zaptest.NewLogger(t))

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, acc.checkOrigin(req("https://play.example.com")))
	assert.True(t, acc.checkOrigin(req("")))
	assert.False(t, acc.checkOrigin(req("https://evil.example.com")))

	open := NewAcceptor(testWSConfig(), nil, zaptest.NewLogger(t))
	assert.True(t, open.checkOrigin(req("https://anything.example.com")))
}
