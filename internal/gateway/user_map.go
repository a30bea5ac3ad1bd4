package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/oportunyfam/chatsync/pkg/constant"
)

// UserMap manages user connections
type UserMap struct {
	mu    sync.RWMutex
	users map[int64]*UserConns // userId -> UserConns
	rdb   *redis.Client
}

// UserConns holds all connections for a user
type UserConns struct {
	Clients []*Client
	Time    time.Time
}

// NewUserMap creates a new UserMap. rdb may be nil for a single instance.
func NewUserMap(rdb *redis.Client) *UserMap {
	return &UserMap{
		users: make(map[int64]*UserConns),
		rdb:   rdb,
	}
}

// Register registers a client
func (m *UserMap) Register(ctx context.Context, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, exists := m.users[client.UserId]
	if !exists {
		conns = &UserConns{
			Clients: make([]*Client, 0, 4),
		}
		m.users[client.UserId] = conns
	}

	conns.Clients = append(conns.Clients, client)
	conns.Time = time.Now()

	m.setOnline(ctx, client.UserId)
}

// Unregister unregisters a client. It reports whether the user has no connection left.
func (m *UserMap) Unregister(ctx context.Context, client *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, exists := m.users[client.UserId]
	if !exists {
		return false
	}

	remaining := make([]*Client, 0, len(conns.Clients))
	for _, c := range conns.Clients {
		if c.ConnId != client.ConnId {
			remaining = append(remaining, c)
		}
	}
	conns.Clients = remaining

	if len(conns.Clients) == 0 {
		delete(m.users, client.UserId)
		m.setOffline(ctx, client.UserId)
		return true
	}

	return false
}

// GetAll gets all clients for a user
func (m *UserMap) GetAll(userId int64) ([]*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns, exists := m.users[userId]
	if !exists {
		return nil, false
	}

	// Return a copy to avoid race conditions
	clients := make([]*Client, len(conns.Clients))
	copy(clients, conns.Clients)
	return clients, true
}

// AllClients returns every local client
func (m *UserMap) AllClients() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var clients []*Client
	for _, conns := range m.users {
		clients = append(clients, conns.Clients...)
	}
	return clients
}

// HasConnection checks if user has any connection
func (m *UserMap) HasConnection(userId int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns, exists := m.users[userId]
	return exists && len(conns.Clients) > 0
}

// GetOnlineUserCount returns the number of online users
func (m *UserMap) GetOnlineUserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// GetOnlineConnCount returns the total number of connections
func (m *UserMap) GetOnlineConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, conns := range m.users {
		count += len(conns.Clients)
	}
	return count
}

// IsOnline checks if user is online (checks Redis for distributed support)
func (m *UserMap) IsOnline(ctx context.Context, userId int64) bool {
	if m.HasConnection(userId) {
		return true
	}

	if m.rdb != nil {
		exists, err := m.rdb.Exists(ctx, onlineKey(userId)).Result()
		if err != nil {
			log.CtxWarn(ctx, "check online status failed: user_id=%d, error=%v", userId, err)
			return false
		}
		return exists > 0
	}

	return false
}

// RefreshOnlineStatus rewrites the online key of a locally connected user,
// recreating it if Redis lost it
func (m *UserMap) RefreshOnlineStatus(ctx context.Context, userId int64) {
	if !m.HasConnection(userId) {
		return
	}
	m.setOnline(ctx, userId)
}

// GetAllOnlineUserIds returns all online user Ids (local only)
func (m *UserMap) GetAllOnlineUserIds() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userIds := make([]int64, 0, len(m.users))
	for userId := range m.users {
		userIds = append(userIds, userId)
	}
	return userIds
}

func onlineKey(userId int64) string {
	return fmt.Sprintf(constant.RedisKeyOnline(), userId)
}

// setOnline marks user as online in Redis
func (m *UserMap) setOnline(ctx context.Context, userId int64) {
	if m.rdb == nil {
		return
	}
	if err := m.rdb.Set(ctx, onlineKey(userId), "1", OnlineTTL).Err(); err != nil {
		log.CtxDebug(ctx, "set online failed: user_id=%d, error=%v", userId, err)
	}
}

// setOffline marks user as offline in Redis
func (m *UserMap) setOffline(ctx context.Context, userId int64) {
	if m.rdb == nil {
		return
	}
	if err := m.rdb.Del(ctx, onlineKey(userId)).Err(); err != nil {
		log.CtxDebug(ctx, "set offline failed: user_id=%d, error=%v", userId, err)
	}
}
