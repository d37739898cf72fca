package convstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	r "gopkg.in/redis.v5"
)

const redisPrefix = "_LIFFCHAT_"

// RedisBackend keeps values in redis with an optional TTL
type RedisBackend struct {
	client *r.Client
	ttl    time.Duration
}

// NewRedisBackend connects using a redis:// URL
func NewRedisBackend(url string, ttl time.Duration) (*RedisBackend, error) {
	opts, err := r.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := r.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBackend{client: client, ttl: ttl}, nil
}

func (c *RedisBackend) Name() string {
	return "redis"
}

func (c *RedisBackend) Get(_ context.Context, key string) ([]byte, error) {
	v, err := c.client.Get(redisPrefix + key).Bytes()
	if err == r.Nil {
		return nil, ErrNotFound
	}
	return v, err
}

func (c *RedisBackend) Set(_ context.Context, key string, value []byte) error {
	return redisWriteError(c.client.Set(redisPrefix+key, value, c.ttl).Err())
}

// redisWriteError reports a server at maxmemory as ErrQuotaExceeded
func redisWriteError(err error) error {
	if err != nil && strings.HasPrefix(err.Error(), "OOM ") {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

func (c *RedisBackend) Remove(_ context.Context, key string) error {
	return c.client.Del(redisPrefix + key).Err()
}

func (c *RedisBackend) Close() error {
	return c.client.Close()
}
