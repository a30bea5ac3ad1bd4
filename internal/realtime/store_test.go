package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/pkg/errcode"
)

const waitTimeout = 3 * time.Second

type storeFactory func(t *testing.T) Channel

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Channel { return NewMemoryStore() },
		"redis": func(t *testing.T) Channel {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb, 10*time.Millisecond)
		},
	}
}

func msg(id, createdAtMilli int64, body string) *entity.Message {
	return &entity.Message{
		Id:             id,
		ConversationId: 42,
		SenderId:       7,
		Body:           body,
		CreatedAt:      time.UnixMilli(createdAtMilli),
	}
}

func ids(msgs []*entity.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Id)
	}
	return out
}

func nextSnapshot(t *testing.T, sub Subscription) []*entity.Message {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		require.True(t, ok, "subscription ended: %v", sub.Err())
		return snap
	case <-time.After(waitTimeout):
		t.Fatal("no snapshot delivered")
		return nil
	}
}

func requireNoSnapshot(t *testing.T, sub Subscription, wait time.Duration) {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		if ok {
			t.Fatalf("unexpected snapshot: %v", ids(snap))
		}
	case <-time.After(wait):
	}
}

func subscribe(t *testing.T, ch Channel) Subscription {
	t.Helper()
	sub, err := ch.Subscribe(context.Background(), 42)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return sub
}

func TestStore_SnapshotOrdering(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ch := newStore(t)
			ctx := context.Background()
			require.NoError(t, ch.Seed(ctx, 42, []*entity.Message{msg(2, 10, "b"), msg(1, 10, "a"), msg(3, 5, "c")}))

			sub := subscribe(t, ch)

			assert.Equal(t, []int64{3, 1, 2}, ids(nextSnapshot(t, sub)))
		})
	}
}

func TestStore_SeedKeepsPeerMessages(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ch := newStore(t)
			ctx := context.Background()
			require.NoError(t, ch.Append(ctx, msg(99, 1, "from peer")))
			require.NoError(t, ch.Append(ctx, msg(1, 2, "stale copy")))

			require.NoError(t, ch.Seed(ctx, 42, nil))
			require.NoError(t, ch.Seed(ctx, 42, []*entity.Message{msg(1, 2, "authoritative")}))

			snap, err := ch.Snapshot(ctx, 42)
			require.NoError(t, err)
			require.Equal(t, []int64{99, 1}, ids(snap))
			assert.Equal(t, "from peer", snap[0].Body)
			assert.Equal(t, "authoritative", snap[1].Body)
		})
	}
}

func TestStore_SeedRejectsForeignMessages(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ch := newStore(t)
			foreign := msg(1, 1, "x")
			foreign.ConversationId = 7

			assert.Error(t, ch.Seed(context.Background(), 42, []*entity.Message{foreign}))
		})
	}
}

func TestStore_AppendIsIdempotent(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ch := newStore(t)
			ctx := context.Background()
			sub := subscribe(t, ch)
			assert.Empty(t, nextSnapshot(t, sub))

			m := msg(5, 100, "hi")
			require.NoError(t, ch.Append(ctx, m))
			first := nextSnapshot(t, sub)
			assert.Equal(t, []int64{5}, ids(first))

			require.NoError(t, ch.Append(ctx, m.Clone()))
			requireNoSnapshot(t, sub, 200*time.Millisecond)

			snap, err := ch.Snapshot(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, ids(first), ids(snap))
		})
	}
}

func TestStore_LiveUpdates(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ch := newStore(t)
			ctx := context.Background()
			sub := subscribe(t, ch)
			assert.Empty(t, nextSnapshot(t, sub))

			require.NoError(t, ch.Append(ctx, msg(2, 20, "second")))
			assert.Equal(t, []int64{2}, ids(nextSnapshot(t, sub)))

			require.NoError(t, ch.Append(ctx, msg(1, 10, "first")))
			assert.Equal(t, []int64{1, 2}, ids(nextSnapshot(t, sub)))

			changed := msg(2, 20, "second")
			changed.Seen = true
			require.NoError(t, ch.Append(ctx, changed))
			snap := nextSnapshot(t, sub)
			require.Len(t, snap, 2)
			assert.True(t, snap[1].Seen)
		})
	}
}

func TestStore_CloseStopsDelivery(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ch := newStore(t)
			ctx := context.Background()
			sub, err := ch.Subscribe(ctx, 42)
			require.NoError(t, err)
			nextSnapshot(t, sub)

			sub.Close()
			sub.Close()
			require.NoError(t, ch.Append(ctx, msg(1, 1, "after close")))

			select {
			case <-sub.Done():
			case <-time.After(waitTimeout):
				t.Fatal("subscription did not end")
			}
			for snap := range sub.Snapshots() {
				t.Fatalf("snapshot after close: %v", ids(snap))
			}
			assert.ErrorIs(t, sub.Err(), errcode.ErrCancelled)
		})
	}
}

func TestMemoryStore_DetachesWatchers(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(context.Background(), 42)
	require.NoError(t, err)
	nextSnapshot(t, sub)
	assert.Equal(t, 1, store.SubscriberCount(42))

	sub.Close()
	<-sub.Done()

	assert.Zero(t, store.SubscriberCount(42))
}

func TestRedisStore_PermissionErrorOnSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	_, err := NewRedisStore(rdb, 10*time.Millisecond).Subscribe(context.Background(), 42)

	require.Error(t, err)
	assert.True(t, errcode.IsRealtime(err))
	assert.True(t, isPermanentError(err))
}

func TestRedisStore_ResumesAfterReconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewRedisStore(rdb, 10*time.Millisecond)

	sub := subscribe(t, store)
	assert.Empty(t, nextSnapshot(t, sub))

	mr.Close()
	require.NoError(t, mr.Restart())

	require.Eventually(t, func() bool {
		return store.Append(context.Background(), msg(1, 1, "after restart")) == nil
	}, waitTimeout, 20*time.Millisecond)

	deadline := time.After(waitTimeout)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			require.True(t, ok, "subscription ended: %v", sub.Err())
			if len(snap) == 1 {
				assert.Nil(t, sub.Err())
				return
			}
		case <-deadline:
			t.Fatal("no snapshot after reconnect")
		}
	}
}

func TestRedisStore_CloseAfterConnectionLost(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sub, err := NewRedisStore(rdb, 10*time.Millisecond).Subscribe(context.Background(), 42)
	require.NoError(t, err)
	nextSnapshot(t, sub)

	mr.Close()
	assert.NotPanics(t, sub.Close)
	assert.NotPanics(t, sub.Close)

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not end")
	}
	assert.ErrorIs(t, sub.Err(), errcode.ErrCancelled)
}
