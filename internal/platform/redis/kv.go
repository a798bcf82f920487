package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/taskpulse/taskpulse/internal/store"
)

// KV implements the store.KV interface on top of plain Redis keys. All keys
// are namespaced with a prefix so several services can share one instance.
type KV struct {
	client *redis.Client
	prefix string
}

// NewKV creates a Redis-backed key-value store.
func NewKV(client *redis.Client, prefix string) *KV {
	if client == nil {
		panic("client cannot be nil")
	}

	return &KV{
		client: client,
		prefix: prefix,
	}
}

// Ensure KV implements store.KV interface
var _ store.KV = (*KV)(nil)

// Put stores value under key, overwriting any previous value. Values never
// expire; the owning component deletes its own markers.
func (k *KV) Put(ctx context.Context, key string, value []byte) error {
	if err := k.client.Set(ctx, k.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to put key %q: %w", key, err)
	}
	return nil
}

// Get retrieves the value stored under key.
func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := k.client.Get(ctx, k.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return value, nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.client.Del(ctx, k.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
