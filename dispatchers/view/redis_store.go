package view

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis API used by RedisStore.
// *redis.Client and *redis.ClusterClient satisfy it. On a cluster, give the
// prefix a hash tag such as "{orders}:" so List can read views with one MGET.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisStore keeps each view under its own key, plus a set of the stored
// view ids that List reads from.
type RedisStore[V any] struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	codec  stoat.StateCodec
}

const indexSuffix = "@index"

// RedisOption configures a RedisStore.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
	codec  stoat.StateCodec
}

// WithKeyPrefix sets the key prefix. Defaults to "stoat:view:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithTTL expires views after d. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(c *redisConfig) {
		c.ttl = d
	}
}

// WithCodec sets the view encoding. Defaults to JSON.
func WithCodec(codec stoat.StateCodec) RedisOption {
	return func(c *redisConfig) {
		c.codec = codec
	}
}

// NewRedisStore creates a RedisStore over client.
func NewRedisStore[V any](client RedisClient, opts ...RedisOption) *RedisStore[V] {
	cfg := redisConfig{prefix: "stoat:view:", codec: stoat.JSONCodec{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore[V]{client: client, prefix: cfg.prefix, ttl: cfg.ttl, codec: cfg.codec}
}

// Key returns the redis key of a view.
func (s *RedisStore[V]) Key(viewID string) string {
	return s.prefix + viewID
}

// IndexKey returns the key of the set holding every stored view id.
func (s *RedisStore[V]) IndexKey() string {
	return s.prefix + indexSuffix
}

// Find implements Store.
func (s *RedisStore[V]) Find(ctx context.Context, viewID string) (V, bool, error) {
	var view V
	data, err := s.client.Get(ctx, s.Key(viewID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return view, false, nil
	}
	if err != nil {
		return view, false, fmt.Errorf("redis get: %w", err)
	}
	if err := s.codec.Unmarshal(data, &view); err != nil {
		return view, false, fmt.Errorf("decode view %q: %w", viewID, err)
	}
	return view, true, nil
}

// Save implements Store.
func (s *RedisStore[V]) Save(ctx context.Context, viewID string, view V) error {
	data, err := s.codec.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode view %q: %w", viewID, err)
	}
	if err := s.client.Set(ctx, s.Key(viewID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if err := s.client.SAdd(ctx, s.IndexKey(), viewID).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Delete removes a view.
func (s *RedisStore[V]) Delete(ctx context.Context, viewID string) error {
	if err := s.client.Del(ctx, s.Key(viewID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if err := s.client.SRem(ctx, s.IndexKey(), viewID).Err(); err != nil {
		return fmt.Errorf("redis srem: %w", err)
	}
	return nil
}

// List implements Lister. It loads every indexed view and answers the query
// in process. Ids whose view expired are dropped from the index.
func (s *RedisStore[V]) List(ctx context.Context, q Query[V]) (Paged[V], error) {
	ids, err := s.client.SMembers(ctx, s.IndexKey()).Result()
	if err != nil {
		return Paged[V]{}, fmt.Errorf("redis smembers: %w", err)
	}
	if len(ids) == 0 {
		return runQuery[V](nil, q)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.Key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Paged[V]{}, fmt.Errorf("redis mget: %w", err)
	}

	views := make([]keyed[V], 0, len(ids))
	var expired []interface{}
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var view V
		if err := s.codec.Unmarshal([]byte(str), &view); err != nil {
			return Paged[V]{}, fmt.Errorf("decode view %q: %w", ids[i], err)
		}
		views = append(views, keyed[V]{id: ids[i], view: view})
	}
	if len(expired) > 0 {
		if err := s.client.SRem(ctx, s.IndexKey(), expired...).Err(); err != nil {
			return Paged[V]{}, fmt.Errorf("redis srem: %w", err)
		}
	}

	return runQuery(views, q)
}
