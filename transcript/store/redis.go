package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/bookqa/transcript"
)

// RedisStore implements transcript.Store using Redis. Records are JSON
// strings indexed by a sorted set scored by creation time.
type RedisStore struct {
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
	TTL      time.Duration // Time-to-live for records (0 means no expiration)
}

// NewRedisStore creates a new Redis-based transcript store
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{Addr: "localhost:6379", Prefix: "bookqa:transcript:"}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisStoreWithClient(client, config.Prefix, config.TTL)
}

// NewRedisStoreWithClient reuses an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "bookqa:transcript:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string { return s.prefix + "rec:" + id }
func (s *RedisStore) indexKey() string     { return s.prefix + "index" }

// Save implements transcript.Store.
func (s *RedisStore) Save(ctx context.Context, rec *transcript.Record) error {
	if err := transcript.Prepare(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(rec.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store transcript in Redis: %w", err)
	}
	return nil
}

// Get implements transcript.Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*transcript.Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("transcript %s: %w", id, transcript.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return decodeRecord(data)
}

// List implements transcript.Store. Index entries whose record expired are
// pruned on the way.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*transcript.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript ids: %w", err)
	}

	out := make([]*transcript.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, transcript.ErrNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	transcript.SortNewestFirst(out)
	return out, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
