package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chatroom/pkg/interfaces"
)

const scanBatch = 200

// RedisTier is a durable secondary tier backed by Redis. Every key is
// written with its retention TTL.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier connects to redisURL and verifies the connection.
func NewRedisTier(ctx context.Context, redisURL string) (*RedisTier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisTier{client: client}, nil
}

// NewRedisTierFromClient wraps an existing client.
func NewRedisTierFromClient(client *redis.Client) *RedisTier {
	return &RedisTier{client: client}
}

// Name implements interfaces.Tier.
func (r *RedisTier) Name() string { return "redis" }

// Put sets key with expiry ttl (no expiry when ttl <= 0).
func (r *RedisTier) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get reads key.
func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrKeyNotFound
	}
	return v, err
}

// List walks the keyspace with SCAN and fetches values with one MGET per
// batch. Keys that expire between the scan and the fetch are skipped.
func (r *RedisTier) List(ctx context.Context, prefix string) ([]interfaces.Entry, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	keys = dedupeSorted(keys)

	entries := make([]interfaces.Entry, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		vals, err := r.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			entries = append(entries, interfaces.Entry{Key: batch[i], Value: []byte(s)})
		}
	}
	return entries, nil
}

// Ping checks the Redis connection.
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisTier) Close() error {
	return r.client.Close()
}

// escapeGlob escapes Redis MATCH metacharacters so prefix is literal.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SCAN may return a key more than once.
func dedupeSorted(keys []string) []string {
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}
