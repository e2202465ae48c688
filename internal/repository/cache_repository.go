package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// CacheRepository stores listing snapshots in Redis. Every entry belongs to a group (one library
// version) tracked in an index set, so a superseded version is dropped without scanning the keyspace.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository. A nil client disables caching.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

func groupIndexKey(group string) string { return group + ":index" }

// Get unmarshals the entry at key into dest. A missing entry yields ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return nil
}

// Set stores value under key and records the key in its group index. Both expire together.
func (r *CacheRepository) Set(ctx context.Context, group, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	index := groupIndexKey(group)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// DeleteGroup removes every entry of group along with its index.
func (r *CacheRepository) DeleteGroup(ctx context.Context, group string) error {
	if r.client == nil {
		return nil
	}

	index := groupIndexKey(group)
	keys, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("redis members %s: %w", index, err)
	}
	if err := r.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		return fmt.Errorf("redis delete group %s: %w", group, err)
	}
	r.logger.Debug("cache group dropped", zap.String("group", group), zap.Int("entries", len(keys)))
	return nil
}
