package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/internal/realtime"
	"github.com/oportunyfam/chatsync/internal/service"
	"github.com/oportunyfam/chatsync/pkg/errcode"
)

// stubConn is an in-memory ClientConn
type stubConn struct {
	in        chan []byte
	written   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{
		in:      make(chan []byte, 16),
		written: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *stubConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.done:
		return nil, ErrConnClosed
	}
}

func (c *stubConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.written <- data:
		return nil
	default:
		return ErrWriteChannelFull
	}
}

func (c *stubConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *stubConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *stubConn) SetWriteDeadline(t time.Time) error { return nil }

// stubSyncer records calls from the client
type stubSyncer struct {
	mu       sync.Mutex
	entered  []int64
	exited   []int64
	senders  []int64
	enterErr error
	sendErr  error
	closed   bool
}

func (s *stubSyncer) Claim(conversationId int64) func(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered = append(s.entered, conversationId)
	err := s.enterErr
	return func(context.Context) error { return err }
}

func (s *stubSyncer) Exit(conversationId int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited = append(s.exited, conversationId)
}

func (s *stubSyncer) Send(ctx context.Context, conversationId, senderId int64, body string) (*entity.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders = append(s.senders, senderId)
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	if body == "" {
		return nil, errcode.ErrBlankBody
	}
	return &entity.Message{Id: 11, ConversationId: conversationId, SenderId: senderId, Body: body}, nil
}

func (s *stubSyncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubSyncer) exitedIds() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.exited...)
}

func (s *stubSyncer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubConversations struct{}

func (stubConversations) GetConversation(ctx context.Context, conversationId int64) (*entity.Conversation, error) {
	if conversationId != 42 {
		return nil, &errcode.ServerError{Code: 404, Msg: "conversa não encontrada"}
	}
	return &entity.Conversation{Id: 42, Name: "Projeto Sol"}, nil
}

func startClient(t *testing.T) (*Client, *stubConn, *stubSyncer) {
	t.Helper()
	conn := newStubConn()
	syncer := &stubSyncer{}
	client := NewClient(conn, 7, SDKTypeGo, "tok", "conn-1", nil)
	client.Bind(syncer, stubConversations{})
	client.Start()
	t.Cleanup(func() { _ = client.Close() })
	return client, conn, syncer
}

func send(t *testing.T, conn *stubConn, ident int32, msgIncr string, data any) {
	t.Helper()
	req := map[string]any{"req_identifier": ident, "msg_incr": msgIncr, "operation_id": "op"}
	if data != nil {
		req["data"] = data
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	conn.in <- raw
}

// nextFrame returns the next written frame with the given identifier, skipping others
func nextFrame(t *testing.T, conn *stubConn, ident int32) WSResponse {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-conn.written:
			var resp WSResponse
			require.NoError(t, json.Unmarshal(raw, &resp))
			if resp.ReqIdentifier == ident {
				return resp
			}
		case <-deadline:
			t.Fatalf("no frame with identifier %d", ident)
		}
	}
}

func TestClient_EnterSwitchesConversation(t *testing.T) {
	client, conn, syncer := startClient(t)

	send(t, conn, WSEnterConversation, "1", ConversationReq{ConversationId: 1})
	resp := nextFrame(t, conn, WSEnterConversation)
	assert.Equal(t, 0, resp.ErrCode)
	assert.Equal(t, "1", resp.MsgIncr)
	assert.Equal(t, "op", resp.OperationId)

	send(t, conn, WSEnterConversation, "2", ConversationReq{ConversationId: 2})
	nextFrame(t, conn, WSEnterConversation)

	assert.Equal(t, []int64{1}, syncer.exitedIds())
	assert.Equal(t, int64(2), client.ActiveConversation())

	send(t, conn, WSExitConversation, "3", ConversationReq{ConversationId: 2})
	resp = nextFrame(t, conn, WSExitConversation)
	assert.Equal(t, 0, resp.ErrCode)
	assert.Equal(t, []int64{1, 2}, syncer.exitedIds())
	assert.Zero(t, client.ActiveConversation())
}

func TestClient_SendUsesAuthenticatedUser(t *testing.T) {
	_, conn, syncer := startClient(t)

	send(t, conn, WSSendMsg, "1", SendMsgReq{ConversationId: 42, Body: "hi"})
	resp := nextFrame(t, conn, WSSendMsg)

	require.Equal(t, 0, resp.ErrCode)
	var out SendMsgResp
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, int64(11), out.Message.Id)
	assert.Equal(t, int64(7), out.Message.SenderId)
	syncer.mu.Lock()
	assert.Equal(t, []int64{7}, syncer.senders)
	syncer.mu.Unlock()
}

func TestClient_GetConversation(t *testing.T) {
	_, conn, _ := startClient(t)

	send(t, conn, WSGetConversation, "1", ConversationReq{ConversationId: 42})
	resp := nextFrame(t, conn, WSGetConversation)
	require.Equal(t, 0, resp.ErrCode)
	var conv entity.Conversation
	require.NoError(t, json.Unmarshal(resp.Data, &conv))
	assert.Equal(t, "Projeto Sol", conv.Name)

	send(t, conn, WSGetConversation, "2", ConversationReq{ConversationId: 9})
	resp = nextFrame(t, conn, WSGetConversation)
	assert.Equal(t, errcode.ErrCodeServer.Code, resp.ErrCode)
	assert.Equal(t, "conversa não encontrada", resp.ErrMsg)
}

func TestClient_ErrorReplies(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		_, conn, _ := startClient(t)
		conn.in <- []byte("{not json")
		resp := nextFrame(t, conn, 0)
		assert.Equal(t, errcode.ErrInvalidParam.Code, resp.ErrCode)
	})

	t.Run("sender mismatch", func(t *testing.T) {
		_, conn, syncer := startClient(t)
		raw, _ := json.Marshal(map[string]any{"req_identifier": WSSendMsg, "send_id": 8, "data": SendMsgReq{ConversationId: 1, Body: "x"}})
		conn.in <- raw
		resp := nextFrame(t, conn, WSSendMsg)
		assert.Equal(t, errcode.ErrTokenMismatch.Code, resp.ErrCode)
		syncer.mu.Lock()
		assert.Empty(t, syncer.senders)
		syncer.mu.Unlock()
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, conn, _ := startClient(t)
		send(t, conn, 9999, "1", nil)
		resp := nextFrame(t, conn, 9999)
		assert.Equal(t, errcode.ErrInvalidParam.Code, resp.ErrCode)
		assert.Contains(t, resp.ErrMsg, ErrUnknownRequest.Error())
	})

	t.Run("missing conversation id", func(t *testing.T) {
		_, conn, _ := startClient(t)
		send(t, conn, WSEnterConversation, "1", nil)
		resp := nextFrame(t, conn, WSEnterConversation)
		assert.Equal(t, errcode.ErrInvalidParam.Code, resp.ErrCode)
	})

	t.Run("blank body", func(t *testing.T) {
		_, conn, _ := startClient(t)
		send(t, conn, WSSendMsg, "1", SendMsgReq{ConversationId: 1})
		resp := nextFrame(t, conn, WSSendMsg)
		assert.Equal(t, errcode.ErrCodeBlankBody.Code, resp.ErrCode)
	})

	t.Run("enter failure", func(t *testing.T) {
		_, conn, syncer := startClient(t)
		syncer.mu.Lock()
		syncer.enterErr = &errcode.NetworkError{Op: "GET", Err: errors.New("connection refused")}
		syncer.mu.Unlock()
		send(t, conn, WSEnterConversation, "1", ConversationReq{ConversationId: 1})
		resp := nextFrame(t, conn, WSEnterConversation)
		assert.Equal(t, errcode.ErrCodeNetwork.Code, resp.ErrCode)
	})
}

func TestClient_PresentAndAlert(t *testing.T) {
	client, conn, _ := startClient(t)
	ctx := context.Background()

	client.Present(ctx, &entity.ConversationView{
		ConversationId: 42,
		State:          "live",
		Messages:       []*entity.Message{{Id: 1, ConversationId: 42, Body: "oi"}},
	})
	resp := nextFrame(t, conn, WSPushView)
	var view entity.ConversationView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Equal(t, "live", view.State)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "oi", view.Messages[0].Body)

	client.Alert(ctx, 42, &errcode.ServerError{Code: 500, Msg: "falha interna"})
	resp = nextFrame(t, conn, WSPushAlert)
	var alert AlertData
	require.NoError(t, json.Unmarshal(resp.Data, &alert))
	assert.Equal(t, int64(42), alert.ConversationId)
	assert.Equal(t, errcode.ErrCodeServer.Code, alert.ErrCode)
	assert.Equal(t, "falha interna", alert.ErrMsg)
}

func TestClient_ConnectionLossClosesSyncer(t *testing.T) {
	client, conn, syncer := startClient(t)

	_ = conn.Close()

	require.Eventually(t, syncer.isClosed, time.Second, 5*time.Millisecond)
	assert.True(t, client.IsClosed())
	client.Present(context.Background(), &entity.ConversationView{ConversationId: 1})
	assert.NoError(t, client.KickOnline())
}

// gatedRepo answers ListMessages once its gate for the conversation is open
type gatedRepo struct {
	mu        sync.Mutex
	gates     map[int64]chan struct{}
	createErr error
}

func (r *gatedRepo) gate(conversationId int64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gates == nil {
		r.gates = make(map[int64]chan struct{})
	}
	g, ok := r.gates[conversationId]
	if !ok {
		g = make(chan struct{})
		close(g)
		r.gates[conversationId] = g
	}
	return g
}

func (r *gatedRepo) hold(conversationId int64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gates == nil {
		r.gates = make(map[int64]chan struct{})
	}
	g := make(chan struct{})
	r.gates[conversationId] = g
	return g
}

func (r *gatedRepo) ListMessages(ctx context.Context, conversationId int64) ([]*entity.Message, error) {
	select {
	case <-r.gate(conversationId):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []*entity.Message{{Id: 1, ConversationId: conversationId, SenderId: 9, Body: "oi", CreatedAt: time.UnixMilli(10)}}, nil
}

func (r *gatedRepo) CreateMessage(ctx context.Context, conversationId, senderId int64, body string) (*entity.Message, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	return &entity.Message{Id: 2, ConversationId: conversationId, SenderId: senderId, Body: body, CreatedAt: time.UnixMilli(20)}, nil
}

// startCoordinatedClient wires a client to a real coordinator over a memory store
func startCoordinatedClient(t *testing.T, repo *gatedRepo) (*Client, *stubConn, *service.Coordinator, *realtime.MemoryStore) {
	t.Helper()
	store := realtime.NewMemoryStore()
	pool := service.NewMirrorPool(store, 16, 1, time.Second)
	pool.Run()

	conn := newStubConn()
	client := NewClient(conn, 7, SDKTypeGo, "tok", "conn-1", nil)
	coord := service.NewCoordinator(repo, store, client, pool)
	client.Bind(coord, stubConversations{})
	client.Start()
	t.Cleanup(func() {
		_ = client.Close()
		_ = pool.Stop(context.Background())
	})
	return client, conn, coord, store
}

// replies collects n replies with the given identifier, keyed by msg_incr
func replies(t *testing.T, conn *stubConn, ident int32, n int) map[string]WSResponse {
	t.Helper()
	out := make(map[string]WSResponse, n)
	for len(out) < n {
		resp := nextFrame(t, conn, ident)
		out[resp.MsgIncr] = resp
	}
	return out
}

func TestClient_EnterFollowsArrivalOrder(t *testing.T) {
	for i := 0; i < 50; i++ {
		client, conn, coord, store := startCoordinatedClient(t, &gatedRepo{})

		send(t, conn, WSEnterConversation, "1", ConversationReq{ConversationId: 1})
		send(t, conn, WSEnterConversation, "2", ConversationReq{ConversationId: 2})
		got := replies(t, conn, WSEnterConversation, 2)

		// the first enter either finished before the switch or was cancelled by it
		assert.Contains(t, []int{0, errcode.ErrCodeCancelled.Code}, got["1"].ErrCode, "run %d", i)
		require.Equal(t, 0, got["2"].ErrCode, "run %d", i)
		require.Equal(t, []int64{2}, coord.Active(), "run %d", i)
		assert.Equal(t, int64(2), client.ActiveConversation())
		assert.Equal(t, 1, store.SubscriberCount(2))
		require.Eventually(t, func() bool { return store.SubscriberCount(1) == 0 }, time.Second, 5*time.Millisecond)

		_ = client.Close()
	}
}

func TestClient_ExitWhileEnterIsLoading(t *testing.T) {
	repo := &gatedRepo{}
	gate := repo.hold(5)
	client, conn, coord, store := startCoordinatedClient(t, repo)

	send(t, conn, WSEnterConversation, "1", ConversationReq{ConversationId: 5})
	send(t, conn, WSExitConversation, "2", ConversationReq{ConversationId: 5})

	var (
		frames    []WSResponse
		exitAt    = -1
		enterResp WSResponse
		entered   bool
	)
	deadline := time.After(2 * time.Second)
	for !entered || exitAt < 0 {
		select {
		case raw := <-conn.written:
			var resp WSResponse
			require.NoError(t, json.Unmarshal(raw, &resp))
			frames = append(frames, resp)
			switch resp.ReqIdentifier {
			case WSExitConversation:
				exitAt = len(frames) - 1
				close(gate)
			case WSEnterConversation:
				enterResp, entered = resp, true
			}
		case <-deadline:
			t.Fatalf("missing replies, got %d frames", len(frames))
		}
	}
	time.Sleep(200 * time.Millisecond)
	for drained := false; !drained; {
		select {
		case raw := <-conn.written:
			var resp WSResponse
			require.NoError(t, json.Unmarshal(raw, &resp))
			frames = append(frames, resp)
		default:
			drained = true
		}
	}

	assert.Equal(t, 0, frames[exitAt].ErrCode)
	assert.Equal(t, errcode.ErrCodeCancelled.Code, enterResp.ErrCode)
	for _, f := range frames[exitAt+1:] {
		assert.NotEqual(t, int32(WSPushView), f.ReqIdentifier)
	}
	assert.Empty(t, coord.Active())
	assert.Zero(t, client.ActiveConversation())
	assert.Zero(t, store.SubscriberCount(5))
}

func TestClient_FailedSendIsReportedOnce(t *testing.T) {
	repo := &gatedRepo{createErr: &errcode.ServerError{Code: 500, Msg: "falha interna"}}
	_, conn, _, store := startCoordinatedClient(t, repo)

	send(t, conn, WSSendMsg, "1", SendMsgReq{ConversationId: 42, Body: "oi"})

	var frames []WSResponse
	deadline := time.After(300 * time.Millisecond)
collect:
	for {
		select {
		case raw := <-conn.written:
			var resp WSResponse
			require.NoError(t, json.Unmarshal(raw, &resp))
			frames = append(frames, resp)
		case <-deadline:
			break collect
		}
	}

	require.Len(t, frames, 1)
	assert.Equal(t, int32(WSSendMsg), frames[0].ReqIdentifier)
	assert.Equal(t, errcode.ErrCodeServer.Code, frames[0].ErrCode)
	assert.Equal(t, "falha interna", frames[0].ErrMsg)

	snap, err := store.Snapshot(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, snap)
}
