package gateway

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"
	"github.com/mbeoliero/kit/log"
)

// HandleHertzConnection handles a WebSocket connection from Hertz using hertz-contrib/websocket
func (s *WsServer) HandleHertzConnection(ctx context.Context, c *app.RequestContext, upgrader *websocket.HertzUpgrader) {
	token := string(c.Query(QueryToken))
	sdkType := string(c.Query(QuerySDKType))

	claims, status, msg := s.handshake(ctx, token, string(c.Query(QuerySendId)))
	if claims == nil {
		c.String(status, msg)
		return
	}

	err := upgrader.Upgrade(c, func(conn *websocket.Conn) {
		client := s.newClient(NewHertzWebSocketClientConn(conn, s.connOpts), claims, sdkType, token)
		s.registerChan <- client

		// blocking: hertz releases the connection when this callback returns
		client.readLoop()
	})

	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
		return
	}
}
