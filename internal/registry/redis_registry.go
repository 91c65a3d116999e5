package registry

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"

	"shipwatch/internal/model"
)

// hashClient is the slice of *redis.Client used here.
type hashClient interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisRegistry keeps all subscriptions in one Redis hash.
type RedisRegistry struct {
	client hashClient
	key    string
}

func NewRedisRegistry(client *redis.Client, key string) *RedisRegistry {
	return &RedisRegistry{client: client, key: key}
}

func (r *RedisRegistry) Resolve(ctx context.Context, shortID string) (string, bool, error) {
	t, err := r.client.HGet(ctx, r.key, model.ShortID(shortID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return t, true, nil
}

func (r *RedisRegistry) Upsert(ctx context.Context, shortID, target string) error {
	id, target, err := normalizeArgs(shortID, target)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key, id, target).Err()
}
