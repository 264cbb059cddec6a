package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"chatroom/pkg/interfaces"
)

// PebbleTier is the primary tier: an instance-local LSM store written with
// pebble.Sync. With an empty path it lives entirely in memory, which matches
// the primary's lifetime-of-instance contract.
type PebbleTier struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool
}

// OpenPebble opens the primary tier at path, or in memory when path is empty.
func OpenPebble(path string) (*PebbleTier, error) {
	opts := &pebble.Options{}
	dir := path
	if path == "" {
		opts.FS = vfs.NewMem()
		dir = "primary"
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q: %w", path, err)
	}
	return &PebbleTier{db: db}, nil
}

// Name implements interfaces.Tier.
func (p *PebbleTier) Name() string { return "pebble" }

// Put ignores ttl; primary keys live as long as the instance.
func (p *PebbleTier) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return interfaces.ErrTierClosed
	}
	return p.db.Set([]byte(key), value, pebble.Sync)
}

// Get copies the value out before releasing pebble's buffer.
func (p *PebbleTier) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, interfaces.ErrTierClosed
	}
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// List scans keys with the given prefix in order.
func (p *PebbleTier) List(_ context.Context, prefix string) ([]interfaces.Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, interfaces.ErrTierClosed
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	pfx := []byte(prefix)
	var entries []interfaces.Entry
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		entries = append(entries, interfaces.Entry{
			Key:   string(iter.Key()),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	return entries, iter.Error()
}

// Ping reports whether the store is open.
func (p *PebbleTier) Ping(context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return interfaces.ErrTierClosed
	}
	return nil
}

// Close flushes and closes the store.
func (p *PebbleTier) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
