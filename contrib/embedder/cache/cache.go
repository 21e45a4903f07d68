// Package cache memoises embeddings so repeated questions and re-ingested
// passages do not hit the embedding service twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/vector"
)

// Cache stores vectors by key. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// Embedder wraps a vector.Embedder with a Cache. Cache failures are logged
// and fall through to the wrapped embedder.
type Embedder struct {
	base      vector.Embedder
	cache     Cache
	namespace string
	logger    *slog.Logger
}

// New wraps base. namespace separates vectors of different models.
func New(base vector.Embedder, cache Cache, namespace string) *Embedder {
	return &Embedder{
		base:      base,
		cache:     cache,
		namespace: namespace,
		logger:    logging.WithComponent("embedding_cache"),
	}
}

// Key derives the cache key of text.
func (e *Embedder) Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return e.namespace + ":" + hex.EncodeToString(sum[:])
}

// Dimension implements vector.Embedder.
func (e *Embedder) Dimension() int { return e.base.Dimension() }

// Embed implements vector.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.Key(text)
	if vec, ok := e.lookup(ctx, key); ok {
		return vec, nil
	}
	vec, err := e.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.store(ctx, key, vec)
	return vec, nil
}

// EmbedBatch implements vector.Embedder. Only the misses reach the wrapped
// embedder, in their original relative order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := e.lookup(ctx, e.Key(text)); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.base.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedding cache: expected %d vectors, got %d", len(missing), len(vecs))
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		e.store(ctx, e.Key(missing[j]), vec)
	}
	return out, nil
}

func (e *Embedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	vec, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("embedding cache read failed", "error", err)
		return nil, false
	}
	return vec, ok && len(vec) > 0
}

func (e *Embedder) store(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := e.cache.Set(ctx, key, vec); err != nil {
		e.logger.Warn("embedding cache write failed", "error", err)
	}
}

// RedisCache keeps vectors as JSON strings in Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Time-to-live for vectors (0 means no expiration)
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(config *RedisConfig) *RedisCache {
	if config == nil {
		config = &RedisConfig{Addr: "localhost:6379"}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisCacheWithClient(client, config.Prefix, config.TTL)
}

// NewRedisCacheWithClient reuses an existing client.
func NewRedisCacheWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "bookqa:embedding:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return vec, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MapCache is an in-process Cache.
type MapCache struct {
	mu   sync.RWMutex
	vecs map[string][]float32
}

// NewMapCache returns an empty MapCache.
func NewMapCache() *MapCache {
	return &MapCache{vecs: make(map[string][]float32)}
}

// Get implements Cache.
func (c *MapCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.vecs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), vec...), true, nil
}

// Set implements Cache.
func (c *MapCache) Set(ctx context.Context, key string, vec []float32) error {
	c.mu.Lock()
	c.vecs[key] = append([]float32(nil), vec...)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached vectors.
func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vecs)
}
