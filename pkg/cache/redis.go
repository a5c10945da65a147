package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"film-forge-server/config"
	"film-forge-server/pkg/logger"
)

type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

var Cache *RedisClient

func InitRedis(cfg *config.Config) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	ctx := context.Background()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	Cache = &RedisClient{
		client: rdb,
		ctx:    ctx,
	}

	logger.Info("Redis connected successfully")
	return nil
}

// Client exposes the raw client for pub/sub use.
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

func (r *RedisClient) Set(key string, value interface{}, expiration time.Duration) error {
	var data []byte
	var err error

	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
	}

	if err := r.client.Set(r.ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}

	return nil
}

func (r *RedisClient) Get(key string) (string, error) {
	val, err := r.client.Get(r.ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key %s not found", key)
	} else if err != nil {
		return "", fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	return val, nil
}

// GetJSON unmarshals the cached value into dest. The bool reports whether
// the key was present.
func (r *RedisClient) GetJSON(key string, dest interface{}) (bool, error) {
	val, err := r.client.Get(r.ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

func (r *RedisClient) Delete(key string) error {
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}

	return nil
}

func (r *RedisClient) Exists(key string) (bool, error) {
	exists, err := r.client.Exists(r.ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if key %s exists: %w", key, err)
	}

	return exists > 0, nil
}

// AcquireLock claims key via SETNX with a TTL. The stage guard on a film is
// advisory only; this is the claim that actually prevents two concurrent runs
// on the same film.
func (r *RedisClient) AcquireLock(key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(r.ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisClient) ReleaseLock(key string) error {
	return r.Delete(key)
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Cache key helpers

func FilmProgressCacheKey(filmID uint) string {
	return fmt.Sprintf("film:progress:%d", filmID)
}

func FilmRunLockKey(filmID uint) string {
	return fmt.Sprintf("film:runlock:%d", filmID)
}
