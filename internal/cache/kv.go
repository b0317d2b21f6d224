package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a string key-value store. Values are kept without expiry unless a TTL is set.
type KV struct {
	rdb *redis.Client
	ttl time.Duration

	// fallback is used when no Redis client is configured.
	mu       sync.RWMutex
	fallback map[string]string
}

// NewKV wraps rdb. A nil client keeps values in process memory.
func NewKV(rdb *redis.Client, ttl time.Duration) *KV {
	return &KV{rdb: rdb, ttl: ttl, fallback: make(map[string]string)}
}

// Get returns the value for key and whether it exists.
func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	if kv.rdb == nil {
		kv.mu.RLock()
		defer kv.mu.RUnlock()
		v, ok := kv.fallback[key]
		return v, ok, nil
	}
	v, err := kv.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (kv *KV) Set(ctx context.Context, key, value string) error {
	if kv.rdb == nil {
		kv.mu.Lock()
		kv.fallback[key] = value
		kv.mu.Unlock()
		return nil
	}
	return kv.rdb.Set(ctx, key, value, kv.ttl).Err()
}

// Delete removes key. Missing keys are not an error.
func (kv *KV) Delete(ctx context.Context, key string) error {
	if kv.rdb == nil {
		kv.mu.Lock()
		delete(kv.fallback, key)
		kv.mu.Unlock()
		return nil
	}
	return kv.rdb.Del(ctx, key).Err()
}
