package repositories

import (
	"context"

	"pype/internal/core/ports"
	"pype/internal/infrastructure/repositories/memory"
	redisrepo "pype/internal/infrastructure/repositories/redis"
	"pype/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory hands out the chat archive backend. When Redis is
// enabled but unreachable at startup it degrades to the in-memory archive
// instead of refusing to boot; chat survives, replay across restarts does
// not.
type RepositoryFactory struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	f := &RepositoryFactory{logger: logger}

	if !cfg.Redis.Enabled {
		logger.Info("chat archive backend: memory")
		return f, nil
	}

	client, err := redisrepo.Dial(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, logger)
	if err != nil {
		logger.Warnw("redis unavailable, chat archive degraded to memory", "error", err)
		return f, nil
	}

	f.client = client
	logger.Info("chat archive backend: redis")
	return f, nil
}

func (f *RepositoryFactory) CreateChatArchive() ports.ChatArchive {
	if f.client != nil {
		return redisrepo.NewRedisChatArchive(f.client)
	}
	return memory.NewMemoryChatArchive()
}

// UsingRedis reports whether the archive is actually backed by Redis.
func (f *RepositoryFactory) UsingRedis() bool {
	return f.client != nil
}

// HealthCheck pings Redis when in use; a memory-backed factory is always
// healthy.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.Ping(ctx).Err()
}

func (f *RepositoryFactory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
