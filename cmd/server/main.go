package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"

	"github.com/oportunyfam/chatsync/internal/config"
	"github.com/oportunyfam/chatsync/internal/gateway"
	"github.com/oportunyfam/chatsync/internal/handler"
	"github.com/oportunyfam/chatsync/internal/repository"
	"github.com/oportunyfam/chatsync/internal/router"
	"github.com/oportunyfam/chatsync/internal/service"
	"github.com/oportunyfam/chatsync/pkg/constant"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.TODO()

	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "config loaded: mode=%s, api=%s, realtime_driver=%s", cfg.Server.Mode, cfg.API.BaseURL, cfg.Sync.RealtimeDriver)

	// Initialize Redis key prefix
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	log.CtxInfo(ctx, "redis key prefix: %s", constant.GetRedisKeyPrefix())

	// Initialize repositories
	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		log.CtxError(ctx, "failed to initialize repositories: %v", err)
		panic(err)
	}
	defer repos.Close()

	if err := repos.CheckConnection(ctx); err != nil {
		log.CtxError(ctx, "redis connection check failed: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "redis connection established")

	// Mirror workers shared by every coordinator
	mirrorPool := service.NewMirrorPool(repos.Realtime, cfg.Sync.MirrorQueueSize, cfg.Sync.MirrorWorkerNum, cfg.Sync.MirrorTimeout)
	mirrorPool.Run()

	// Initialize WebSocket server
	wsServer := gateway.NewWsServer(cfg, repos.Redis, repos.API, repos.Realtime, mirrorPool)
	wsServer.Run(ctx)
	log.CtxInfo(ctx, "websocket server started")

	handlers := &router.Handlers{
		Stats: handler.NewStatsHandler(wsServer),
	}

	// Create Hertz server
	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
		server.WithExitWaitTime(shutdownTimeout),
	)

	router.SetupRouter(h, cfg, handlers, wsServer)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)

	go func() {
		h.Spin()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		log.CtxError(ctx, "server shutdown error: %v", err)
	}

	// Kick sessions first so no new sends reach the mirror queue
	wsServer.Shutdown(shutdownCtx)

	if err := mirrorPool.Stop(shutdownCtx); err != nil {
		log.CtxWarn(ctx, "mirror queue not drained: %v", err)
	}

	log.CtxInfo(ctx, "server stopped")
}
