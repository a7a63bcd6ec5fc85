// Package repositories builds the relay's registry backend, preferring
// Redis when configured and falling back to process memory.
package repositories

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lancast/internal/core/ports"
	"lancast/internal/infrastructure/repositories/memory"
	redisrepo "lancast/internal/infrastructure/repositories/redis"
	"lancast/pkg/config"
)

// RegistryFactory creates the relay registry with fallback support.
type RegistryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

func NewRegistryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RegistryFactory {
	factory := &RegistryFactory{
		useRedis: cfg.Redis.Enabled,
		cfg:      cfg,
		logger:   logger,
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
			logger.Warnw("failed to connect to Redis, falling back to memory registry",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
		}
	}

	if factory.useRedis {
		logger.Info("using Redis relay registry")
	} else {
		logger.Info("using memory relay registry")
	}
	return factory
}

// CreateRelayRegistry returns the configured registry backend.
func (f *RegistryFactory) CreateRelayRegistry() ports.RelayRegistry {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisRelayRegistry(f.redisClient, f.cfg.Relay.ClaimTTL)
	}
	return memory.NewMemoryRelayRegistry(f.cfg.Relay.ClaimTTL)
}

// RedisClient exposes the underlying client for health checks; nil
// when running on the memory registry.
func (f *RegistryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close releases the Redis connection pool if one was opened.
func (f *RegistryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
