package repositories

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"heartline/internal/core/ports"
	"heartline/internal/infrastructure/repositories/memory"
	redisrepo "heartline/internal/infrastructure/repositories/redis"
	"heartline/pkg/config"
)

// RepositoryFactory creates repositories backed by Redis when it is
// configured and reachable, falling back to in-memory implementations.
type RepositoryFactory struct {
	config *config.Config
	logger *zap.SugaredLogger
	client *goredis.Client
}

// NewRepositoryFactory creates a new repository factory. When Redis is
// enabled the connection is established eagerly so that misconfiguration
// surfaces at startup.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	f := &RepositoryFactory{
		config: cfg,
		logger: logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			return nil, err
		}
		f.client = client
	}

	return f, nil
}

// CreateCallRepository creates a call repository based on configuration.
func (f *RepositoryFactory) CreateCallRepository() ports.CallRepository {
	if f.client != nil {
		f.logger.Infow("using Redis call repository", "address", f.config.Redis.Address)
		return redisrepo.NewRedisCallRepository(f.client, f.logger)
	}

	f.logger.Infow("using in-memory call repository")
	return memory.NewMemoryCallRepository()
}

// RedisClient exposes the shared client for components that need raw
// access, such as the push token store. Nil when Redis is disabled.
func (f *RepositoryFactory) RedisClient() *goredis.Client {
	return f.client
}

// HealthCheck pings the backing store.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.Ping(ctx).Err()
}

// Close releases the backing connections.
func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.client)
}
