package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/oportunyfam/chatsync/internal/config"
	"github.com/oportunyfam/chatsync/internal/realtime"
	"github.com/oportunyfam/chatsync/internal/service"
	"github.com/oportunyfam/chatsync/pkg/idgen"
	"github.com/oportunyfam/chatsync/pkg/jwt"
	"github.com/oportunyfam/chatsync/pkg/metrics"
	"github.com/oportunyfam/chatsync/sdk"
)

// WsServer is the WebSocket server. Every connection gets its own coordinator
// talking to the API with the connection's token.
type WsServer struct {
	upgrader       *websocket.Upgrader
	cfg            *config.Config
	connOpts       ConnOptions
	userMap        *UserMap
	registerChan   chan *Client
	unregisterChan chan *Client
	api            *sdk.Client
	channel        realtime.Channel
	mirror         service.Mirrorer
	idGen          idgen.IDGenerator
	onlineUserNum  atomic.Int64
	onlineConnNum  atomic.Int64
	maxConnNum     int64
}

// NewWsServer creates a new WebSocket server
func NewWsServer(cfg *config.Config, rdb *redis.Client, api *sdk.Client, channel realtime.Channel, mirror service.Mirrorer) *WsServer {
	allowedOrigins := cfg.Server.AllowedOrigins
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return AllowOrigin(r.Header.Get("Origin"), allowedOrigins)
		},
	}

	idGen, err := idgen.GetDefaultGenerator()
	if err != nil {
		log.Warn("sonyflake unavailable, using uuid connection ids: %v", err)
		idGen = idgen.NewUUIDGenerator()
	}

	return &WsServer{
		upgrader:       upgrader,
		cfg:            cfg,
		connOpts:       NewConnOptions(cfg.WebSocket),
		userMap:        NewUserMap(rdb),
		registerChan:   make(chan *Client, 1000),
		unregisterChan: make(chan *Client, 1000),
		api:            api,
		channel:        channel,
		mirror:         mirror,
		idGen:          idGen,
		maxConnNum:     cfg.WebSocket.MaxConnNum,
	}
}

// Run starts the WebSocket server
func (s *WsServer) Run(ctx context.Context) {
	go s.eventLoop(ctx)
}

// eventLoop handles client registration, unregistration and online refresh
func (s *WsServer) eventLoop(ctx context.Context) {
	ticker := time.NewTicker(OnlineTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-s.registerChan:
			s.registerClient(ctx, client)
		case client := <-s.unregisterChan:
			s.unregisterClient(ctx, client)
		case <-ticker.C:
			for _, userId := range s.userMap.GetAllOnlineUserIds() {
				s.userMap.RefreshOnlineStatus(ctx, userId)
			}
		}
	}
}

// registerClient registers a client
func (s *WsServer) registerClient(ctx context.Context, client *Client) {
	existingClients, exists := s.userMap.GetAll(client.UserId)
	if !exists {
		s.onlineUserNum.Add(1)
	}

	s.userMap.Register(ctx, client)
	s.onlineConnNum.Add(1)
	metrics.OnlineConnections.Inc()

	log.CtxInfo(ctx, "client registered: user_id=%d, sdk_type=%s, conn_id=%s, existing_conns=%d, online_users=%d, online_conns=%d",
		client.UserId, client.SDKType, client.ConnId, len(existingClients), s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// unregisterClient unregisters a client
func (s *WsServer) unregisterClient(ctx context.Context, client *Client) {
	isUserOffline := s.userMap.Unregister(ctx, client)
	s.onlineConnNum.Add(-1)
	metrics.OnlineConnections.Dec()

	if isUserOffline {
		s.onlineUserNum.Add(-1)
	}

	log.CtxInfo(ctx, "client unregistered: user_id=%d, conn_id=%s, user_offline=%v, online_users=%d, online_conns=%d",
		client.UserId, client.ConnId, isUserOffline, s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// UnregisterClient queues client for unregistration
func (s *WsServer) UnregisterClient(client *Client) {
	select {
	case s.unregisterChan <- client:
	default:
		log.Warn("unregister channel full: user_id=%d", client.UserId)
	}
}

// handshake checks the connection limit and the token of a new connection
func (s *WsServer) handshake(ctx context.Context, token, sendIdStr string) (*jwt.Claims, int, string) {
	if s.onlineConnNum.Load() >= s.maxConnNum {
		return nil, http.StatusServiceUnavailable, "connection limit exceeded"
	}

	if token == "" || sendIdStr == "" {
		return nil, http.StatusBadRequest, "missing required parameters"
	}
	sendId, err := strconv.ParseInt(sendIdStr, 10, 64)
	if err != nil {
		return nil, http.StatusBadRequest, "invalid send_id"
	}

	claims, err := jwt.ValidateToken(token, s.cfg.JWT.Secret, sendId)
	if err != nil {
		log.CtxDebug(ctx, "token validation failed: send_id=%d, error=%v", sendId, err)
		return nil, http.StatusUnauthorized, "unauthorized"
	}
	return claims, http.StatusOK, ""
}

// newClient builds a client and its coordinator for an upgraded connection
func (s *WsServer) newClient(conn ClientConn, claims *jwt.Claims, sdkType, token string) *Client {
	connId, err := s.idGen.NextID()
	if err != nil {
		connId = idgen.MustNextID()
	}

	api := s.api.WithUserToken(token)
	client := NewClient(conn, claims.UserId, sdkType, token, connId, s)
	client.Bind(service.NewCoordinator(api, s.channel, client, s.mirror), api)
	return client
}

// HandleConnection handles a new WebSocket connection (net/http handler)
func (s *WsServer) HandleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(QueryToken)
	sdkType := r.URL.Query().Get(QuerySDKType)

	claims, status, msg := s.handshake(ctx, token, r.URL.Query().Get(QuerySendId))
	if claims == nil {
		http.Error(w, msg, status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
		return
	}

	client := s.newClient(NewWebSocketClientConn(conn, s.connOpts), claims, sdkType, token)
	s.registerChan <- client
	client.Start()
}

// Shutdown kicks every connected client
func (s *WsServer) Shutdown(ctx context.Context) {
	clients := s.userMap.AllClients()
	for _, client := range clients {
		_ = client.KickOnline()
	}
	log.CtxInfo(ctx, "websocket server shut down: kicked=%d", len(clients))
}

// GetOnlineUserCount returns online user count
func (s *WsServer) GetOnlineUserCount() int64 {
	return s.onlineUserNum.Load()
}

// GetOnlineConnCount returns online connection count
func (s *WsServer) GetOnlineConnCount() int64 {
	return s.onlineConnNum.Load()
}

// IsUserOnline reports whether a user has a connection on any instance
func (s *WsServer) IsUserOnline(ctx context.Context, userId int64) bool {
	return s.userMap.IsOnline(ctx, userId)
}

// AllowOrigin validates an Origin header against allowed origins
func AllowOrigin(origin string, allowedOrigins []string) bool {
	// same-origin request or non-browser client
	if origin == "" {
		return true
	}

	// no allowed origins configured: reject all cross-origin requests
	if len(allowedOrigins) == 0 {
		return false
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}

	return false
}
