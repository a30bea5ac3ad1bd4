package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbeoliero/kit/log"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/pkg/errcode"
)

// MemoryStore is a single-process Channel. It backs the "memory" realtime
// driver and tests; every subscriber in the process sees every write.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[int64]map[int64]*entity.Message // conversationId -> messageId -> message
	subs  map[int64]map[*memoryWatcher]struct{}
}

type memoryWatcher struct {
	notify chan struct{}
}

// NewMemoryStore creates a new MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[int64]map[int64]*entity.Message),
		subs:  make(map[int64]map[*memoryWatcher]struct{}),
	}
}

// Seed merges msgs into the node
func (s *MemoryStore) Seed(ctx context.Context, conversationId int64, msgs []*entity.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		if m.ConversationId != conversationId {
			return errcode.ErrInvalidParam.Wrap(fmt.Errorf("message %d belongs to conversation %d", m.Id, m.ConversationId))
		}
	}

	s.mu.Lock()
	node := s.nodeLocked(conversationId)
	for _, m := range msgs {
		node[m.Id] = m.Clone()
	}
	s.mu.Unlock()

	s.notify(conversationId)
	return nil
}

// Append writes one child unless an identical copy is stored
func (s *MemoryStore) Append(ctx context.Context, msg *entity.Message) error {
	s.mu.Lock()
	node := s.nodeLocked(msg.ConversationId)
	if cur, ok := node[msg.Id]; ok && cur.Equal(msg) {
		s.mu.Unlock()
		return nil
	}
	node[msg.Id] = msg.Clone()
	s.mu.Unlock()

	s.notify(msg.ConversationId)
	return nil
}

// Snapshot returns a sorted copy of the node
func (s *MemoryStore) Snapshot(ctx context.Context, conversationId int64) ([]*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := s.nodes[conversationId]
	msgs := make([]*entity.Message, 0, len(node))
	for _, m := range node {
		msgs = append(msgs, m.Clone())
	}
	entity.SortMessages(msgs)
	return msgs, nil
}

// Subscribe attaches a watcher to the node
func (s *MemoryStore) Subscribe(ctx context.Context, conversationId int64) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &errcode.RealtimeError{Op: "subscribe", Err: err}
	}

	w := &memoryWatcher{notify: make(chan struct{}, 1)}
	s.mu.Lock()
	watchers, ok := s.subs[conversationId]
	if !ok {
		watchers = make(map[*memoryWatcher]struct{})
		s.subs[conversationId] = watchers
	}
	watchers[w] = struct{}{}
	s.mu.Unlock()

	sub := newSubscription(context.WithoutCancel(ctx), nil)
	go s.run(sub, w, conversationId)
	return sub, nil
}

// SubscriberCount returns the number of attached watchers of a conversation
func (s *MemoryStore) SubscriberCount(conversationId int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[conversationId])
}

func (s *MemoryStore) run(sub *subscription, w *memoryWatcher, conversationId int64) {
	defer func() {
		s.detach(conversationId, w)
		sub.finish()
	}()

	if !s.emit(sub, conversationId) {
		return
	}
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-w.notify:
			if !s.emit(sub, conversationId) {
				return
			}
		}
	}
}

func (s *MemoryStore) emit(sub *subscription, conversationId int64) bool {
	snap, err := s.Snapshot(sub.ctx, conversationId)
	if err != nil {
		log.CtxWarn(sub.ctx, "memory snapshot failed: conversation_id=%d, error=%v", conversationId, err)
		return true
	}
	return sub.publish(snap)
}

func (s *MemoryStore) detach(conversationId int64, w *memoryWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watchers := s.subs[conversationId]
	delete(watchers, w)
	if len(watchers) == 0 {
		delete(s.subs, conversationId)
	}
}

func (s *MemoryStore) nodeLocked(conversationId int64) map[int64]*entity.Message {
	node, ok := s.nodes[conversationId]
	if !ok {
		node = make(map[int64]*entity.Message)
		s.nodes[conversationId] = node
	}
	return node
}

// notify wakes every watcher of the conversation without blocking
func (s *MemoryStore) notify(conversationId int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for w := range s.subs[conversationId] {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}
