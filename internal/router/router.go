package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"

	"github.com/oportunyfam/chatsync/internal/config"
	"github.com/oportunyfam/chatsync/internal/gateway"
	"github.com/oportunyfam/chatsync/internal/handler"
	"github.com/oportunyfam/chatsync/internal/middleware"
	"github.com/oportunyfam/chatsync/pkg/metrics"
)

// SetupRouter sets up all routes
func SetupRouter(h *server.Hertz, cfg *config.Config, handlers *Handlers, wsServer *gateway.WsServer) {
	h.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	// Health check
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
	})

	h.GET("/metrics", adaptor.HertzHandler(metrics.Handler()))

	// Stats routes (auth required)
	statsGroup := h.Group("/stats", middleware.JWTAuth(cfg.JWT.Secret))
	{
		statsGroup.GET("", handlers.Stats.GetStats)
		statsGroup.GET("/online", handlers.Stats.GetUserOnline)
		statsGroup.GET("/online/:user_id", handlers.Stats.GetUserOnline)
	}

	// WebSocket route using hertz-contrib/websocket with origin validation
	allowedOrigins := cfg.Server.AllowedOrigins
	upgrader := &websocket.HertzUpgrader{
		CheckOrigin: func(ctx *app.RequestContext) bool {
			return gateway.AllowOrigin(string(ctx.Request.Header.Peek("Origin")), allowedOrigins)
		},
	}

	h.GET("/ws", func(ctx context.Context, c *app.RequestContext) {
		wsServer.HandleHertzConnection(ctx, c, upgrader)
	})
}

// Handlers holds all HTTP handlers
type Handlers struct {
	Stats *handler.StatsHandler
}
