package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fgcmatch/config"

	"github.com/redis/go-redis/v9"
)

// Mirror stores JSON snapshots of cache entries outside the process so a
// restarted daemon can paint the last known state before its first fetch.
type Mirror interface {
	Save(ctx context.Context, key string, data []byte) error
	// Load returns nil, nil when nothing is stored for key.
	Load(ctx context.Context, key string) ([]byte, error)
}

type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror connects to redis and pings it once.
func NewRedisMirror(ctx context.Context, cfg config.CacheConfig, namespace string) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisMirror{client: client, prefix: "fgcmatch:" + namespace + ":", ttl: cfg.MirrorTTL}, nil
}

func (m *RedisMirror) Save(ctx context.Context, key string, data []byte) error {
	if err := m.client.Set(ctx, m.prefix+key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirroring %s: %w", key, err)
	}
	return nil
}

func (m *RedisMirror) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := m.client.Get(ctx, m.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mirror %s: %w", key, err)
	}
	return data, nil
}

func (m *RedisMirror) Close() error { return m.client.Close() }

func (c *Cache) mirrorWrite(key string, v interface{}) {
	if c.mirror == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("mirror encode failed", "key", key, "error", err)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.bg, 2*time.Second)
		defer cancel()
		if err := c.mirror.Save(ctx, key, data); err != nil {
			c.logger.Debug("mirror write failed", "key", key, "error", err)
		}
	}()
}

// Warm loads the mirrored snapshot of key as a stale entry, so readers see it
// while the first real fetch is still running. It reports whether a snapshot
// was found.
func Warm[T any](ctx context.Context, c *Cache, key string) (bool, error) {
	if c.mirror == nil {
		return false, nil
	}
	data, err := c.mirror.Load(ctx, key)
	if err != nil || data == nil {
		return false, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return false, fmt.Errorf("decoding mirror %s: %w", key, err)
	}
	c.mu.Lock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = &entry{value: v, fetchedAt: c.now(), stale: true}
	}
	c.mu.Unlock()
	return true, nil
}
