// Package main provides the relay server binary: a WebSocket endpoint that
// tracks players across scenes and relays their events, plus a gRPC health
// endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/scenerelay/internal/config"
	"github.com/cory-johannsen/scenerelay/internal/frontend/ws"
	"github.com/cory-johannsen/scenerelay/internal/game/scene"
	"github.com/cory-johannsen/scenerelay/internal/gateway"
	"github.com/cory-johannsen/scenerelay/internal/observability"
	"github.com/cory-johannsen/scenerelay/internal/scripting"
	"github.com/cory-johannsen/scenerelay/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	stopTimeout := flag.Duration("stop-timeout", server.DefaultStopTimeout, "maximum time to wait for services to exit on shutdown")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("name", cfg.Server.Name),
		zap.String("mode", cfg.Server.Mode),
		zap.String("ws_addr", cfg.WebSocket.Addr()),
	)

	// Dialog scripts are optional; NPCs with static dialog need none.
	var dialogs scene.DialogSource
	if cfg.Content.ScriptsDir != "" {
		gen, err := scripting.NewDialogGenerator(cfg.Content.ScriptsDir, cfg.Content.DialogSeed, cfg.Content.ScriptInstructionLimit, logger)
		if err != nil {
			logger.Fatal("loading dialog scripts", zap.Error(err))
		}
		defer gen.Close()
		dialogs = gen
	}

	catalogStart := time.Now()
	registry, err := scene.LoadCatalogFromFile(cfg.Content.ScenesFile, dialogs)
	if err != nil {
		logger.Fatal("loading scene catalog", zap.Error(err))
	}
	logger.Info("scene catalog loaded",
		zap.Strings("scenes", registry.Keys()),
		zap.String("default_scene", registry.Default().Key),
		zap.Duration("elapsed", time.Since(catalogStart)),
	)

	gw := gateway.NewService(cfg.Gateway, registry, logger)
	acceptor := ws.NewAcceptor(cfg.WebSocket, gw, logger)

	// Wire lifecycle; services stop in reverse order so the gateway outlives
	// the connections draining into it.
	lifecycle := server.NewLifecycle(logger)
	lifecycle.SetStopTimeout(*stopTimeout)
	lifecycle.Add("gateway", gw)
	lifecycle.Add("websocket", acceptor)

	if cfg.Health.Enabled() {
		health := server.NewHealthServer(cfg.Health, gw.Serving, logger)
		lifecycle.Add("health", health)
	}

	logger.Info("relay server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Strings("services", lifecycle.Names()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("relay server stopped")
}
