package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
)

// RedisRelayRegistry stores stream claims as TTL keys so claims from
// crashed relay instances evaporate on their own.
type RedisRelayRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRelayRegistry(client *redis.Client, ttl time.Duration) ports.RelayRegistry {
	return &RedisRelayRegistry{
		client: client,
		prefix: "lancast:relay:stream:",
		ttl:    ttl,
	}
}

func (r *RedisRelayRegistry) key(id domain.StreamID) string {
	return r.prefix + string(id)
}

func (r *RedisRelayRegistry) Register(ctx context.Context, id domain.StreamID, instance string) error {
	ok, err := r.client.SetNX(ctx, r.key(id), instance, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("registry set: %w", err)
	}
	if ok {
		return nil
	}
	owner, err := r.client.Get(ctx, r.key(id)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("registry get: %w", err)
	}
	if owner == instance {
		// Reclaim after a fast restart of the same instance.
		return r.client.Expire(ctx, r.key(id), r.ttl).Err()
	}
	return domain.ErrStreamBusy
}

func (r *RedisRelayRegistry) Heartbeat(ctx context.Context, id domain.StreamID, instance string) error {
	owner, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return domain.ErrStreamNotFound
	}
	if err != nil {
		return fmt.Errorf("registry get: %w", err)
	}
	if owner != instance {
		return domain.ErrStreamNotFound
	}
	return r.client.Expire(ctx, r.key(id), r.ttl).Err()
}

func (r *RedisRelayRegistry) Lookup(ctx context.Context, id domain.StreamID) (string, error) {
	owner, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return "", domain.ErrStreamNotFound
	}
	if err != nil {
		return "", fmt.Errorf("registry get: %w", err)
	}
	return owner, nil
}

func (r *RedisRelayRegistry) Unregister(ctx context.Context, id domain.StreamID) error {
	return r.client.Del(ctx, r.key(id)).Err()
}
