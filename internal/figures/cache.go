package figures

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheKeyPrefix namespaces figure entries in Redis
const cacheKeyPrefix = "smartpaper:figure:"

// Entry is a cached, captioned figure crop
type Entry struct {
	Base64      string `json:"base64"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// kv is the subset of the Redis client the cache needs
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache stores captions keyed by the crop's content hash so identical
// figures are captioned once
type Cache struct {
	client kv
	ttl    time.Duration
}

// NewCache creates a figure cache. A nil client disables caching.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	if client == nil {
		return &Cache{ttl: ttl}
	}
	return &Cache{client: client, ttl: ttl}
}

// Key returns the cache key for a crop
func Key(crop []byte) string {
	sum := sha256.Sum256(crop)
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get looks up a crop. A miss returns (nil, nil).
func (c *Cache) Get(ctx context.Context, crop []byte) (*Entry, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	raw, err := c.client.Get(ctx, Key(crop)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("figure cache get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("figure cache entry corrupt: %w", err)
	}
	return &entry, nil
}

// Put stores a crop's caption
func (c *Cache) Put(ctx context.Context, crop []byte, entry Entry) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal figure cache entry: %w", err)
	}
	if err := c.client.Set(ctx, Key(crop), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("figure cache set: %w", err)
	}
	return nil
}
