package common

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/ClaraKoka/cocalc/pkg/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient wraps a go-redis universal client configured from RedisConfig.
type RedisClient struct {
	redis.UniversalClient
}

func NewRedisClient(cfg types.RedisConfig) (*RedisClient, error) {
	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		ClientName:   cfg.ClientName,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	}

	var client redis.UniversalClient
	if cfg.Mode == types.RedisModeCluster {
		client = redis.NewClusterClient(opts.Cluster())
	} else {
		client = redis.NewUniversalClient(opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisClient{UniversalClient: client}, nil
}

// RedisLockOptions parameterize a lock acquisition.
type RedisLockOptions struct {
	TtlS    int
	Retries int
}

// RedisLock provides short-lived mutual exclusion across hub replicas.
// Keys are released explicitly or expire by TTL.
type RedisLock struct {
	rdb    *RedisClient
	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLock(rdb *RedisClient) *RedisLock {
	return &RedisLock{rdb: rdb, tokens: make(map[string]string)}
}

// Acquire takes the lock at key, retrying with a short delay. It fails once
// retries are exhausted.
func (l *RedisLock) Acquire(ctx context.Context, key string, opts RedisLockOptions) error {
	token := uuid.NewString()
	ttl := time.Duration(opts.TtlS) * time.Second

	for attempt := 0; ; attempt++ {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			l.mu.Lock()
			l.tokens[key] = token
			l.mu.Unlock()
			return nil
		}
		if attempt >= opts.Retries {
			return fmt.Errorf("lock %s: not acquired after %d retries", key, opts.Retries)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// releaseScript deletes the key only if we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release drops the lock at key if held by this locker.
func (l *RedisLock) Release(key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}
