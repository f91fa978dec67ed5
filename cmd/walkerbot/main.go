// Package main provides a headless relay client that joins a scene and walks
// a fixed pattern, streaming its movement like a browser client would.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/scenerelay/internal/client/animation"
	"github.com/cory-johannsen/scenerelay/internal/client/bot"
	"github.com/cory-johannsen/scenerelay/internal/client/modelcache"
	"github.com/cory-johannsen/scenerelay/internal/client/netclient"
	"github.com/cory-johannsen/scenerelay/internal/client/replica"
	"github.com/cory-johannsen/scenerelay/internal/config"
	"github.com/cory-johannsen/scenerelay/internal/observability"
	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

func main() {
	endpoint := flag.String("url", "ws://127.0.0.1:3000/ws", "relay WebSocket endpoint")
	username := flag.String("username", "walker", "display name")
	modelID := flag.Int("model", 1, "player model id")
	sceneKey := flag.String("scene", "", "scene to join; empty = server default")
	assetsDir := flag.String("assets", "assets/models", "root directory of model manifests")
	tick := flag.Duration("tick", 16*time.Millisecond, "client tick interval")
	emote := flag.String("emote", "", "emote to play once after joining, e.g. Dancing")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger, err := observability.NewLogger(config.LoggingConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := netclient.Dial(ctx, *endpoint, protocol.Handshake{
		Username: *username,
		ModelID:  strconv.Itoa(*modelID),
		SceneKey: *sceneKey,
	}, netclient.Options{InboxSize: 64}, logger)
	if err != nil {
		logger.Fatal("connecting to relay", zap.Error(err))
	}
	defer client.Close()
	logger.Info("connected", zap.String("url", *endpoint), zap.String("username", *username))

	cache := modelcache.New(modelcache.ManifestLoader{Root: *assetsDir}, logger)
	world := replica.New(cache, logger)

	b := bot.New(world, client, bot.NewPattern(bot.DefaultPattern()), *tick, logger)
	if *emote != "" {
		name, ok := animation.ParseClipName(*emote)
		if !ok || !name.IsEmote() {
			logger.Fatal("unknown emote", zap.String("emote", *emote))
		}
		b.EmoteAfter(name, 2*time.Second)
	}
	if err := b.Run(ctx); err != nil {
		if errors.Is(err, bot.ErrDisconnected) && client.Err() == nil {
			logger.Info("relay closed the connection", zap.String("reason", world.Failure()))
			return
		}
		logger.Fatal("client error", zap.Error(err), zap.NamedError("transport", client.Err()))
	}
	logger.Info("walker stopped")
}
