package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/oportunyfam/chatsync/internal/middleware"
	"github.com/oportunyfam/chatsync/pkg/errcode"
	"github.com/oportunyfam/chatsync/pkg/response"
)

// OnlineTracker reports connection accounting of the gateway
type OnlineTracker interface {
	GetOnlineUserCount() int64
	GetOnlineConnCount() int64
	IsUserOnline(ctx context.Context, userId int64) bool
}

// StatsHandler handles gateway statistics requests
type StatsHandler struct {
	tracker OnlineTracker
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(tracker OnlineTracker) *StatsHandler {
	return &StatsHandler{tracker: tracker}
}

// StatsResponse represents the gateway counters
type StatsResponse struct {
	OnlineUsers int64 `json:"online_users"`
	OnlineConns int64 `json:"online_conns"`
}

// GetStats returns online counters of this instance
func (h *StatsHandler) GetStats(ctx context.Context, c *app.RequestContext) {
	response.Success(ctx, c, StatsResponse{
		OnlineUsers: h.tracker.GetOnlineUserCount(),
		OnlineConns: h.tracker.GetOnlineConnCount(),
	})
}

// OnlineResponse represents the online status of a user
type OnlineResponse struct {
	UserId int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// GetUserOnline returns whether a user is connected to any instance.
// Without a path id the caller's own status is returned.
func (h *StatsHandler) GetUserOnline(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if raw := c.Param("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.Error(ctx, c, errcode.ErrInvalidParam)
			return
		}
		userId = id
	}

	response.Success(ctx, c, OnlineResponse{
		UserId: userId,
		Online: h.tracker.IsUserOnline(ctx, userId),
	})
}
