package repository

import (
	"context"
	"fmt"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/oportunyfam/chatsync/internal/config"
	"github.com/oportunyfam/chatsync/internal/realtime"
	"github.com/oportunyfam/chatsync/pkg/constant"
	"github.com/oportunyfam/chatsync/sdk"
)

// Repositories holds the message repository client and the realtime store
type Repositories struct {
	Redis    *redis.Client
	API      *sdk.Client
	Realtime realtime.Channel
}

// NewRepositories creates all repositories. Redis is always connected since
// online status lives there; the realtime store uses it unless the memory driver is set.
func NewRepositories(cfg *config.Config) (*Repositories, error) {
	api, err := sdk.NewClientWithTimeouts(cfg.API.BaseURL, sdk.Timeouts{
		Dial:  cfg.API.DialTimeout,
		Read:  cfg.API.ReadTimeout,
		Write: cfg.API.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}

	rdb := initRedis(cfg)

	repos := &Repositories{
		Redis: rdb,
		API:   api,
	}

	switch cfg.Sync.RealtimeDriver {
	case constant.RealtimeDriverMemory:
		repos.Realtime = realtime.NewMemoryStore()
	case constant.RealtimeDriverRedis:
		repos.Realtime = realtime.NewRedisStore(rdb, cfg.Sync.RetryBackoff)
	default:
		_ = rdb.Close()
		return nil, fmt.Errorf("unknown realtime driver: %q", cfg.Sync.RealtimeDriver)
	}

	return repos, nil
}

// initRedis initializes Redis connection
func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// Close closes all connections
func (r *Repositories) Close() error {
	return r.Redis.Close()
}

// CheckConnection checks if the redis connection is alive
func (r *Repositories) CheckConnection(ctx context.Context) error {
	if err := r.Redis.Ping(ctx).Err(); err != nil {
		log.CtxError(ctx, "redis ping failed: %v", err)
		return err
	}
	return nil
}
