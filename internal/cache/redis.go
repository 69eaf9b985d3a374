package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to a single node, or a cluster when useCluster is
// set and several addresses are given, and pings it.
func NewRedisClient(ctx context.Context, addrs []string, password string, useCluster bool, logger *zap.Logger) (redis.UniversalClient, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no redis address configured")
	}
	var rdb redis.UniversalClient
	if useCluster && len(addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:            addrs[0],
			Password:        password,
			PoolSize:        50,
			MinIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			MaxRetries:      3,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info("redis connected", zap.Strings("addrs", addrs))
	return rdb, nil
}

// Redis is a KV over a Redis client.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, fullKey(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, fullKey(namespace, key), value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, namespace, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, fullKey(namespace, key), value, ttl).Result()
}

func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	return r.client.Del(ctx, fullKey(namespace, key)).Err()
}
