package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/mbeoliero/kit/log"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/pkg/errcode"
)

// Syncer is the conversation sync surface a client drives. Claim registers an
// enter intent and returns the load to run; Claim and Exit are called in
// request order from the read loop.
type Syncer interface {
	Claim(conversationId int64) func(ctx context.Context) error
	Exit(conversationId int64)
	Send(ctx context.Context, conversationId, senderId int64, body string) (*entity.Message, error)
	Close()
}

// ConversationReader loads conversation labels
type ConversationReader interface {
	GetConversation(ctx context.Context, conversationId int64) (*entity.Conversation, error)
}

type replyKey struct{}

// withReply marks ctx as belonging to a request whose reply reports errors
func withReply(ctx context.Context) context.Context {
	return context.WithValue(ctx, replyKey{}, true)
}

func hasReply(ctx context.Context) bool {
	v, _ := ctx.Value(replyKey{}).(bool)
	return v
}

// Client represents a connected WebSocket client. It is the presenter of its
// own coordinator: views and alerts are written through the connection's
// single writer.
type Client struct {
	mu        sync.Mutex
	conn      ClientConn
	UserId    int64
	SDKType   string
	Token     string
	ConnId    string
	server    *WsServer
	syncer    Syncer
	convs     ConversationReader
	closed    atomic.Bool
	closedErr error
	ctx       context.Context
	cancel    context.CancelFunc

	active   atomic.Int64 // conversation currently entered, 0 if none
	sendMu   sync.Mutex   // keeps sends of one client in order
	inflight sync.WaitGroup
}

// NewClient creates a new client
func NewClient(conn ClientConn, userId int64, sdkType, token, connId string, server *WsServer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:    conn,
		UserId:  userId,
		SDKType: sdkType,
		Token:   token,
		ConnId:  connId,
		server:  server,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Bind attaches the sync surface and conversation reader used by requests
func (c *Client) Bind(syncer Syncer, convs ConversationReader) {
	c.syncer = syncer
	c.convs = convs
}

// Start starts the client message handling
func (c *Client) Start() {
	go c.readLoop()
}

// readLoop continuously reads messages from the connection
func (c *Client) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.closedErr = ErrPanic
			log.CtxError(c.ctx, "client read loop panic: user_id=%d, error=%v", c.UserId, r)
		}
		c.close()
	}()

	for {
		message, err := c.conn.ReadMessage()
		if err != nil {
			log.CtxDebug(c.ctx, "read message error: user_id=%d, conn_id=%s, error=%v", c.UserId, c.ConnId, err)
			c.closedErr = err
			return
		}

		if c.closed.Load() {
			c.closedErr = ErrConnClosed
			return
		}

		if err := c.handleMessage(message); err != nil {
			log.CtxWarn(c.ctx, "handle message error: user_id=%d, error=%v", c.UserId, err)
			c.closedErr = err
			return
		}
	}
}

// handleMessage handles a single incoming message. Requests that call the API
// run off the read loop so an exit can still arrive while an enter is loading;
// enter and exit intents themselves are applied here, in arrival order.
func (c *Client) handleMessage(message []byte) error {
	var req WSRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return c.replyError(&req, errcode.ErrInvalidParam.Wrap(ErrInvalidProtocol))
	}

	// Validate sender Id matches authenticated user
	if req.SendId != 0 && req.SendId != c.UserId {
		return c.replyError(&req, errcode.ErrTokenMismatch)
	}

	log.CtxDebug(c.ctx, "received message: req_identifier=%d, user_id=%d, msg_incr=%s", req.ReqIdentifier, c.UserId, req.MsgIncr)

	switch req.ReqIdentifier {
	case WSEnterConversation:
		load, err := c.claimEnter(&req)
		if err != nil {
			return c.replyError(&req, err)
		}
		c.async(&req, func(ctx context.Context, _ *WSRequest) ([]byte, error) {
			return nil, load(ctx)
		})
	case WSSendMsg:
		c.async(&req, c.handleSend)
	case WSGetConversation:
		c.async(&req, c.handleGetConversation)
	case WSExitConversation:
		resp, err := c.handleExit(c.ctx, &req)
		return c.reply(&req, err, resp)
	default:
		return c.replyError(&req, errcode.ErrInvalidParam.Wrap(ErrUnknownRequest))
	}
	return nil
}

type requestHandler func(ctx context.Context, req *WSRequest) ([]byte, error)

func (c *Client) async(req *WSRequest, handle requestHandler) {
	c.inflight.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.CtxError(c.ctx, "request handler panic: user_id=%d, req_identifier=%d, error=%v", c.UserId, req.ReqIdentifier, r)
				_ = c.replyError(req, errcode.ErrInternalServer)
			}
			c.inflight.Done()
		}()

		resp, err := handle(c.ctx, req)
		if err := c.reply(req, err, resp); err != nil {
			log.CtxDebug(c.ctx, "reply failed: user_id=%d, error=%v", c.UserId, err)
		}
	}()
}

// claimEnter switches the active conversation. Only one conversation is active
// per connection; entering another one exits the previous, which cancels its
// load if it has not finished.
func (c *Client) claimEnter(req *WSRequest) (func(ctx context.Context) error, error) {
	var convReq ConversationReq
	if err := Decode(req.Data, &convReq); err != nil || convReq.ConversationId <= 0 {
		return nil, errcode.ErrInvalidParam
	}

	if prev := c.active.Swap(convReq.ConversationId); prev != 0 && prev != convReq.ConversationId {
		c.syncer.Exit(prev)
	}
	return c.syncer.Claim(convReq.ConversationId), nil
}

func (c *Client) handleExit(ctx context.Context, req *WSRequest) ([]byte, error) {
	var convReq ConversationReq
	if err := Decode(req.Data, &convReq); err != nil || convReq.ConversationId <= 0 {
		return nil, errcode.ErrInvalidParam
	}

	c.active.CompareAndSwap(convReq.ConversationId, 0)
	c.syncer.Exit(convReq.ConversationId)
	return nil, nil
}

// handleSend sends a message as the authenticated user
func (c *Client) handleSend(ctx context.Context, req *WSRequest) ([]byte, error) {
	var sendReq SendMsgReq
	if err := Decode(req.Data, &sendReq); err != nil || sendReq.ConversationId <= 0 {
		return nil, errcode.ErrInvalidParam
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	// the reply carries any failure, so the matching alert is not pushed
	msg, err := c.syncer.Send(withReply(ctx), sendReq.ConversationId, c.UserId, sendReq.Body)
	if err != nil {
		return nil, err
	}
	return Encode(SendMsgResp{Message: msg})
}

func (c *Client) handleGetConversation(ctx context.Context, req *WSRequest) ([]byte, error) {
	var convReq ConversationReq
	if err := Decode(req.Data, &convReq); err != nil || convReq.ConversationId <= 0 {
		return nil, errcode.ErrInvalidParam
	}

	conv, err := c.convs.GetConversation(ctx, convReq.ConversationId)
	if err != nil {
		return nil, err
	}
	return Encode(conv)
}

// reply sends a response to the client
func (c *Client) reply(req *WSRequest, err error, data []byte) error {
	if err != nil {
		return c.replyError(req, err)
	}
	return c.writeResponse(WSResponse{
		ReqIdentifier: req.ReqIdentifier,
		MsgIncr:       req.MsgIncr,
		OperationId:   req.OperationId,
		Data:          data,
	})
}

// replyError sends an error response
func (c *Client) replyError(req *WSRequest, err error) error {
	e := errcode.FromError(err)
	return c.writeResponse(WSResponse{
		ReqIdentifier: req.ReqIdentifier,
		MsgIncr:       req.MsgIncr,
		OperationId:   req.OperationId,
		ErrCode:       e.Code,
		ErrMsg:        e.Msg,
	})
}

// writeResponse writes a response to the connection
func (c *Client) writeResponse(resp WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return c.conn.WriteMessage(data)
}

// Present pushes a conversation view
func (c *Client) Present(ctx context.Context, view *entity.ConversationView) {
	data, err := Encode(view)
	if err != nil {
		log.CtxError(ctx, "encode view failed: conversation_id=%d, error=%v", view.ConversationId, err)
		return
	}
	if err := c.writeResponse(WSResponse{ReqIdentifier: WSPushView, Data: data}); err != nil {
		log.CtxDebug(ctx, "push view failed: user_id=%d, conn_id=%s, error=%v", c.UserId, c.ConnId, err)
	}
}

// Alert pushes a user-facing error. Failures of a request that is answered
// with an error reply are not pushed again.
func (c *Client) Alert(ctx context.Context, conversationId int64, err error) {
	if hasReply(ctx) {
		return
	}
	e := errcode.FromError(err)
	data, _ := Encode(AlertData{ConversationId: conversationId, ErrCode: e.Code, ErrMsg: e.Msg})
	if err := c.writeResponse(WSResponse{ReqIdentifier: WSPushAlert, Data: data}); err != nil {
		log.CtxDebug(ctx, "push alert failed: user_id=%d, conn_id=%s, error=%v", c.UserId, c.ConnId, err)
	}
}

// KickOnline sends kick message and closes connection
func (c *Client) KickOnline() error {
	_ = c.writeResponse(WSResponse{ReqIdentifier: WSKickOnlineMsg})
	return c.Close()
}

// Close detaches every conversation and closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}
	c.closed.Store(true)
	c.mu.Unlock()

	c.cancel()
	if c.syncer != nil {
		c.syncer.Close()
	}
	return c.conn.Close()
}

// close handles cleanup when connection is closed
func (c *Client) close() {
	_ = c.Close()
	c.inflight.Wait()
	if c.server != nil {
		c.server.UnregisterClient(c)
	}
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// ActiveConversation returns the conversation currently entered, 0 if none
func (c *Client) ActiveConversation() int64 {
	return c.active.Load()
}
