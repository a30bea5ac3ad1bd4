package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/pkg/constant"
	"github.com/oportunyfam/chatsync/pkg/errcode"
)

// Change event operations published on the conversation channel
const (
	OpSeed = "seed"
	OpPut  = "put"
)

// changeEvent is the pub/sub payload. Subscribers reload the whole node,
// so it only serves logging and debugging.
type changeEvent struct {
	Op        string `json:"op"`
	MessageId int64  `json:"message_id,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// RedisStore keeps each conversation node in a Redis hash (field = message id,
// value = JSON record) and announces changes on a per-conversation channel.
type RedisStore struct {
	rdb          *redis.Client
	retryBackoff time.Duration
}

// NewRedisStore creates a new RedisStore
func NewRedisStore(rdb *redis.Client, retryBackoff time.Duration) *RedisStore {
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}
	return &RedisStore{rdb: rdb, retryBackoff: retryBackoff}
}

func nodeKey(conversationId int64) string {
	return fmt.Sprintf(constant.RedisKeyRealtimeConv(), conversationId)
}

func eventChannel(conversationId int64) string {
	return fmt.Sprintf(constant.RedisKeyRealtimeConvEvent(), conversationId)
}

// Seed merges msgs into the node in one pipeline and announces a single change
func (s *RedisStore) Seed(ctx context.Context, conversationId int64, msgs []*entity.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	key := nodeKey(conversationId)
	pipe := s.rdb.Pipeline()
	for _, m := range msgs {
		if m.ConversationId != conversationId {
			return errcode.ErrInvalidParam.Wrap(fmt.Errorf("message %d belongs to conversation %d", m.Id, m.ConversationId))
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode message %d: %w", m.Id, err)
		}
		pipe.HSet(ctx, key, entity.FormatId(m.Id), data)
	}
	pipe.Publish(ctx, eventChannel(conversationId), encodeEvent(changeEvent{Op: OpSeed, Count: len(msgs)}))

	if _, err := pipe.Exec(ctx); err != nil {
		return &errcode.RealtimeError{Op: "seed", Err: err}
	}
	return nil
}

// Append writes one child unless the stored copy is already identical
func (s *RedisStore) Append(ctx context.Context, msg *entity.Message) error {
	key := nodeKey(msg.ConversationId)
	field := entity.FormatId(msg.Id)

	cur, err := s.rdb.HGet(ctx, key, field).Bytes()
	switch {
	case err == nil:
		var existing entity.Message
		if json.Unmarshal(cur, &existing) == nil && existing.Equal(msg) {
			return nil
		}
	case errors.Is(err, redis.Nil):
	default:
		return &errcode.RealtimeError{Op: "append", Err: err}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %d: %w", msg.Id, err)
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, field, data)
	pipe.Publish(ctx, eventChannel(msg.ConversationId), encodeEvent(changeEvent{Op: OpPut, MessageId: msg.Id}))
	if _, err := pipe.Exec(ctx); err != nil {
		return &errcode.RealtimeError{Op: "append", Err: err}
	}
	return nil
}

// Snapshot reads the whole node. Undecodable children are skipped.
func (s *RedisStore) Snapshot(ctx context.Context, conversationId int64) ([]*entity.Message, error) {
	fields, err := s.rdb.HGetAll(ctx, nodeKey(conversationId)).Result()
	if err != nil {
		return nil, &errcode.RealtimeError{Op: "snapshot", Err: err}
	}

	msgs := make([]*entity.Message, 0, len(fields))
	for field, value := range fields {
		var m entity.Message
		if err := json.Unmarshal([]byte(value), &m); err != nil {
			log.CtxWarn(ctx, "skip undecodable realtime child: conversation_id=%d, field=%s, error=%v", conversationId, field, err)
			continue
		}
		msgs = append(msgs, &m)
	}
	entity.SortMessages(msgs)
	return msgs, nil
}

// Subscribe attaches to the conversation channel. A lost connection is retried
// until Close; after each (re)subscription a fresh snapshot is delivered.
func (s *RedisStore) Subscribe(ctx context.Context, conversationId int64) (Subscription, error) {
	ps := s.rdb.Subscribe(ctx, eventChannel(conversationId))

	// wait for the subscription confirmation so configuration errors surface here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, &errcode.RealtimeError{Op: "subscribe", Err: err}
	}

	sub := newSubscription(context.WithoutCancel(ctx), func() { _ = ps.Close() })
	go s.run(sub, ps, conversationId)
	return sub, nil
}

// run is the producer goroutine of one subscription
func (s *RedisStore) run(sub *subscription, ps *redis.PubSub, conversationId int64) {
	ctx := sub.ctx
	defer func() {
		if r := recover(); r != nil {
			sub.fail(&errcode.RealtimeError{Op: "subscribe", Err: fmt.Errorf("panic: %v", r)})
			log.CtxError(ctx, "realtime subscription panic: conversation_id=%d, error=%v", conversationId, r)
		}
		_ = ps.Close()
		sub.finish()
	}()

	if !s.emit(sub, conversationId) {
		return
	}

	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if sub.isClosing() || ctx.Err() != nil {
				return
			}
			if isPermanentError(err) {
				sub.fail(&errcode.RealtimeError{Op: "subscribe", Err: err})
				log.CtxWarn(ctx, "realtime subscription stopped: conversation_id=%d, error=%v", conversationId, err)
				return
			}
			log.CtxDebug(ctx, "realtime subscription interrupted, retrying: conversation_id=%d, error=%v", conversationId, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryBackoff):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			// resubscribed after a reconnect: changes may have been missed
			if m.Kind == "subscribe" && !s.emit(sub, conversationId) {
				return
			}
		case *redis.Message:
			if !s.emit(sub, conversationId) {
				return
			}
		}
	}
}

// emit reads and publishes a snapshot; false means the producer must stop
func (s *RedisStore) emit(sub *subscription, conversationId int64) bool {
	snap, err := s.Snapshot(sub.ctx, conversationId)
	if err != nil {
		if sub.isClosing() || sub.ctx.Err() != nil {
			return false
		}
		if isPermanentError(err) {
			sub.fail(&errcode.RealtimeError{Op: "snapshot", Err: errors.Unwrap(err)})
			return false
		}
		log.CtxDebug(sub.ctx, "realtime snapshot failed, waiting for next change: conversation_id=%d, error=%v", conversationId, err)
		return true
	}
	return sub.publish(snap)
}

// isPermanentError reports permission and configuration errors that retrying cannot fix
func isPermanentError(err error) bool {
	msg := err.Error()
	if re := new(errcode.RealtimeError); errors.As(err, &re) && re.Err != nil {
		msg = re.Err.Error()
	}
	for _, prefix := range []string{"NOAUTH", "NOPERM", "WRONGPASS", "ERR AUTH", "ERR unknown command", "ERR invalid password"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func encodeEvent(ev changeEvent) string {
	data, _ := json.Marshal(ev)
	return string(data)
}
