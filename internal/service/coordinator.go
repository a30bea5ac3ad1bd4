package service

import (
	"context"
	"strings"
	"sync"

	"github.com/mbeoliero/kit/log"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/internal/realtime"
	"github.com/oportunyfam/chatsync/pkg/errcode"
	"github.com/oportunyfam/chatsync/pkg/metrics"
)

// MessageRepository is the authoritative message store
type MessageRepository interface {
	ListMessages(ctx context.Context, conversationId int64) ([]*entity.Message, error)
	CreateMessage(ctx context.Context, conversationId, senderId int64, body string) (*entity.Message, error)
}

// Presenter receives conversation views and user-facing errors.
// Implementations must not block and must not call back into the Coordinator.
type Presenter interface {
	Present(ctx context.Context, view *entity.ConversationView)
	Alert(ctx context.Context, conversationId int64, err error)
}

// Coordinator keeps the realtime copy of each entered conversation reconciled
// with the repository and forwards live snapshots to its presenter.
type Coordinator struct {
	repo      MessageRepository
	channel   realtime.Channel
	presenter Presenter
	mirror    Mirrorer

	mu       sync.Mutex
	sessions map[int64]*session
	closed   bool
}

// session is the state of one entered conversation
type session struct {
	conversationId int64

	mu       sync.Mutex
	state    entity.SyncState
	degraded bool
	exited   bool
	sub      realtime.Subscription
	last     []*entity.Message

	ready chan struct{} // closed when loading finishes
	err   error         // enter result, valid after ready
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(repo MessageRepository, channel realtime.Channel, presenter Presenter, mirror Mirrorer) *Coordinator {
	return &Coordinator{
		repo:      repo,
		channel:   channel,
		presenter: presenter,
		mirror:    mirror,
		sessions:  make(map[int64]*session),
	}
}

// Enter reconciles the conversation and attaches to its live stream.
// A concurrent Enter for a loading conversation waits for the first one; entering
// a live conversation is a no-op.
func (c *Coordinator) Enter(ctx context.Context, conversationId int64) error {
	return c.Claim(conversationId)(ctx)
}

// Claim registers the conversation as Loading and returns the function that
// loads it, so callers can order Enter and Exit intents before doing any I/O.
// An Exit issued before the returned function runs makes it return ErrCancelled
// without calling the repository. The function must be called exactly once.
func (c *Coordinator) Claim(conversationId int64) func(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return func(context.Context) error { return errcode.ErrCancelled }
	}
	if s, ok := c.sessions[conversationId]; ok {
		s.mu.Lock()
		status := s.state.Status
		s.mu.Unlock()
		if status != entity.SyncFailed {
			return s.wait
		}
	}

	s := &session{
		conversationId: conversationId,
		state:          entity.SyncState{Status: entity.SyncLoading},
		ready:          make(chan struct{}),
	}
	c.sessions[conversationId] = s

	return func(ctx context.Context) error {
		err := c.load(ctx, s)
		s.err = err
		close(s.ready)
		return err
	}
}

func (s *session) wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) load(ctx context.Context, s *session) error {
	convId := s.conversationId
	if !c.presentState(ctx, s) {
		return errcode.ErrCancelled
	}

	msgs, err := c.repo.ListMessages(ctx, convId)
	if err != nil {
		log.CtxWarn(ctx, "list messages failed: conversation_id=%d, error=%v", convId, err)
		metrics.EntersTotal.WithLabelValues(metrics.ResultFailed).Inc()
		s.mu.Lock()
		if s.exited {
			s.mu.Unlock()
			return err
		}
		s.state = entity.SyncState{Status: entity.SyncFailed, Reason: err}
		c.presentLocked(ctx, s)
		s.mu.Unlock()
		return err
	}
	if s.isExited() {
		return errcode.ErrCancelled
	}

	if err := c.channel.Seed(ctx, convId, msgs); err != nil {
		log.CtxWarn(ctx, "seed realtime failed, continuing: conversation_id=%d, count=%d, error=%v", convId, len(msgs), err)
	}

	sub, subErr := c.channel.Subscribe(ctx, convId)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		if sub != nil {
			sub.Close()
		}
		return errcode.ErrCancelled
	}

	s.state = entity.SyncState{Status: entity.SyncLive}
	if subErr != nil {
		log.CtxWarn(ctx, "subscribe realtime failed, showing seeded snapshot: conversation_id=%d, error=%v", convId, subErr)
		metrics.EntersTotal.WithLabelValues(metrics.ResultDegraded).Inc()
		s.degraded = true
		s.last = entity.SortedCopy(msgs)
		c.presentLocked(ctx, s)
		return nil
	}

	metrics.EntersTotal.WithLabelValues(metrics.ResultOK).Inc()
	metrics.ActiveSubscriptions.Inc()
	s.sub = sub
	go c.forward(context.WithoutCancel(ctx), s, sub)

	log.CtxInfo(ctx, "conversation live: conversation_id=%d, seeded=%d", convId, len(msgs))
	return nil
}

// forward relays snapshots until the subscription ends
func (c *Coordinator) forward(ctx context.Context, s *session, sub realtime.Subscription) {
	defer metrics.ActiveSubscriptions.Dec()

	for snap := range sub.Snapshots() {
		s.mu.Lock()
		if s.exited {
			s.mu.Unlock()
			return
		}
		s.last = snap
		c.presentLocked(ctx, s)
		s.mu.Unlock()
	}

	err := sub.Err()
	if err == nil || errcode.IsCancelled(err) {
		return
	}

	// the stream stopped for good: keep showing the last snapshot without live updates
	log.CtxWarn(ctx, "realtime subscription ended, degrading: conversation_id=%d, error=%v", s.conversationId, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return
	}
	s.degraded = true
	s.sub = nil
	c.presentLocked(ctx, s)
}

// Send creates the message upstream, then mirrors it into the realtime channel.
// A blank body is rejected without any network call.
func (c *Coordinator) Send(ctx context.Context, conversationId, senderId int64, body string) (*entity.Message, error) {
	if strings.TrimSpace(body) == "" {
		metrics.SendsTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, errcode.ErrBlankBody
	}

	msg, err := c.repo.CreateMessage(ctx, conversationId, senderId, body)
	if err != nil {
		log.CtxWarn(ctx, "create message failed: conversation_id=%d, sender_id=%d, error=%v", conversationId, senderId, err)
		metrics.SendsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		c.presenter.Alert(ctx, conversationId, err)
		return nil, err
	}
	metrics.SendsTotal.WithLabelValues(metrics.ResultOK).Inc()

	if !c.mirror.AsyncMirror(msg) {
		log.CtxWarn(ctx, "message not mirrored: conversation_id=%d, message_id=%d", conversationId, msg.Id)
	}
	return msg, nil
}

// Exit detaches from the conversation. Safe to call repeatedly and while loading.
func (c *Coordinator) Exit(conversationId int64) {
	c.mu.Lock()
	s, ok := c.sessions[conversationId]
	if ok {
		delete(c.sessions, conversationId)
	}
	c.mu.Unlock()

	if ok {
		s.detach()
	}
}

// Close exits every conversation. Later Enter calls fail with ErrCancelled.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[int64]*session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.detach()
	}
}

// State returns the sync state of a conversation; Idle if it is not entered
func (c *Coordinator) State(conversationId int64) entity.SyncState {
	c.mu.Lock()
	s, ok := c.sessions[conversationId]
	c.mu.Unlock()
	if !ok {
		return entity.SyncState{Status: entity.SyncIdle}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the ids of entered conversations
func (c *Coordinator) Active() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int64, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *session) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		return
	}
	s.exited = true
	s.state = entity.SyncState{Status: entity.SyncIdle}
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

func (s *session) isExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// presentState presents the current state unless the session was exited
func (c *Coordinator) presentState(ctx context.Context, s *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return false
	}
	c.presentLocked(ctx, s)
	return true
}

// presentLocked must be called with s.mu held
func (c *Coordinator) presentLocked(ctx context.Context, s *session) {
	view := &entity.ConversationView{
		ConversationId: s.conversationId,
		State:          s.state.Status.String(),
		Degraded:       s.degraded,
		Messages:       s.last,
	}
	if s.state.Reason != nil {
		view.Reason = errcode.FromError(s.state.Reason).Msg
	}
	if view.Messages == nil {
		view.Messages = []*entity.Message{}
	}
	c.presenter.Present(ctx, view)
}
