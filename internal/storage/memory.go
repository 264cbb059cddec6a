package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chatroom/pkg/interfaces"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryTier is a map-backed tier. It honours TTLs and can be told to fail,
// which makes it the stand-in secondary for tests and for deployments that
// run without a durable backup.
type MemoryTier struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	name  string
	now   func() time.Time
	err   error
}

// NewMemoryTier creates an empty tier.
func NewMemoryTier(name string) *MemoryTier {
	return &MemoryTier{items: make(map[string]memoryItem), name: name, now: time.Now}
}

// Name implements interfaces.Tier.
func (m *MemoryTier) Name() string { return m.name }

// FailWith makes every subsequent operation return err (nil to recover).
func (m *MemoryTier) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Put stores a copy of value.
func (m *MemoryTier) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

func (m *MemoryTier) live(item memoryItem) bool {
	return item.expiresAt.IsZero() || m.now().Before(item.expiresAt)
}

// Get returns a copy of the stored value.
func (m *MemoryTier) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	item, ok := m.items[key]
	if !ok || !m.live(item) {
		return nil, interfaces.ErrKeyNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// List returns live entries under prefix sorted by key.
func (m *MemoryTier) List(_ context.Context, prefix string) ([]interfaces.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var entries []interfaces.Entry
	for k, item := range m.items {
		if strings.HasPrefix(k, prefix) && m.live(item) {
			entries = append(entries, interfaces.Entry{Key: k, Value: append([]byte(nil), item.value...)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Ping reports the injected failure, if any.
func (m *MemoryTier) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Close drops all data.
func (m *MemoryTier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]memoryItem)
	return nil
}
