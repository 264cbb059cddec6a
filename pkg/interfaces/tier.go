package interfaces

import (
	"context"
	"time"
)

// Entry is one key/value pair returned by a prefix listing.
type Entry struct {
	Key   string
	Value []byte
}

// Tier is one backing store of the dual-tier persistence layer.
// ARCHITECTURAL DISCOVERY: The primary (instance-local, synchronous) and the
// secondary (durable, TTL-bearing) stores share this contract so the merge and
// fallback policy lives in one place instead of at every call site.
type Tier interface {
	// Put writes value under key. ttl <= 0 means no expiry; tiers that do not
	// expire keys ignore it.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns ErrKeyNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every live entry whose key starts with prefix, in key order.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Name identifies the tier in logs and health output.
	Name() string

	Ping(ctx context.Context) error
	Close() error
}
