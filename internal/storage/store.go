// Package storage implements the dual-tier persistence layer.
//
// The primary tier is strongly consistent and local to this instance; it is
// written synchronously and read first. The secondary tier is durable and
// TTL-bearing; it is written asynchronously by a single background writer and
// consulted only on primary misses. A write acknowledged by the primary but
// still queued for the secondary is lost if the instance is recycled before
// the queue drains.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatroom/internal/metrics"
	"chatroom/pkg/interfaces"
	"chatroom/pkg/types"
)

// Defaults for Options
const (
	DefaultSecondaryTTL     = 365 * 24 * time.Hour
	DefaultIndexCap         = 100
	DefaultQueueSize        = 1000
	DefaultSecondaryTimeout = 5 * time.Second
)

// Options tunes a Store.
type Options struct {
	SecondaryTTL     time.Duration
	IndexCap         int
	QueueSize        int
	SecondaryTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.SecondaryTTL <= 0 {
		o.SecondaryTTL = DefaultSecondaryTTL
	}
	if o.IndexCap <= 0 {
		o.IndexCap = DefaultIndexCap
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.SecondaryTimeout <= 0 {
		o.SecondaryTimeout = DefaultSecondaryTimeout
	}
}

type secondaryWrite struct {
	key   string
	value []byte
	flush chan struct{} // set on barrier entries queued by Flush
}

// Store combines a primary and a secondary Tier.
type Store struct {
	primary   interfaces.Tier
	secondary interfaces.Tier
	opts      Options
	logger    zerolog.Logger

	queue chan secondaryWrite
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts the secondary writer and returns the store. The store owns both
// tiers and closes them in Close.
func New(primary, secondary interfaces.Tier, opts Options, logger zerolog.Logger) *Store {
	opts.withDefaults()
	s := &Store{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		logger:    logger.With().Str("component", "storage").Logger(),
		queue:     make(chan secondaryWrite, opts.QueueSize),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// writeLoop applies secondary writes in submission order.
func (s *Store) writeLoop() {
	defer s.wg.Done()
	for w := range s.queue {
		metrics.SecondaryQueueDepth.Set(float64(len(s.queue)))
		if w.flush != nil {
			close(w.flush)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SecondaryTimeout)
		if err := s.secondary.Put(ctx, w.key, w.value, s.opts.SecondaryTTL); err != nil {
			metrics.SecondaryWriteFailures.WithLabelValues(s.secondary.Name()).Inc()
			s.logger.Warn().Err(err).Str("key", w.key).Str("tier", s.secondary.Name()).Msg("secondary write failed")
		}
		cancel()
	}
}

func (s *Store) enqueueSecondary(key string, value []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- secondaryWrite{key: key, value: value}:
		metrics.SecondaryQueueDepth.Set(float64(len(s.queue)))
	default:
		metrics.SecondaryWritesDropped.Inc()
		s.logger.Warn().Str("key", key).Msg("secondary write queue full, dropping write")
	}
}

// Put writes value to the primary synchronously and queues the secondary
// write. Only a primary failure is returned.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}
	if err := s.primary.Put(ctx, key, value, 0); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPrimaryWrite, key, err)
	}
	s.enqueueSecondary(key, value)
	return nil
}

// Get reads the primary, falling back to the secondary on a miss. Secondary
// failures degrade to ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.primary.Get(ctx, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("primary get %s: %w", key, err)
	}
	v, err = s.secondary.Get(ctx, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, interfaces.ErrKeyNotFound) {
		s.logger.Warn().Err(err).Str("key", key).Msg("secondary read failed")
	}
	return nil, ErrNotFound
}

// List merges both tiers' entries under prefix. The primary wins when both
// hold the same key.
func (s *Store) List(ctx context.Context, prefix string) ([]interfaces.Entry, error) {
	primary, err := s.primary.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("primary list %s: %w", prefix, err)
	}
	secondary, err := s.secondary.List(ctx, prefix)
	if err != nil {
		s.logger.Warn().Err(err).Str("prefix", prefix).Msg("secondary list failed, using primary only")
		secondary = nil
	}

	seen := make(map[string]bool, len(primary))
	merged := make([]interfaces.Entry, 0, len(primary)+len(secondary))
	for _, e := range primary {
		seen[e.Key] = true
		merged = append(merged, e)
	}
	for _, e := range secondary {
		if !seen[e.Key] {
			seen[e.Key] = true
			merged = append(merged, e)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Key < merged[j].Key })
	return merged, nil
}

// Flush waits until every secondary write queued before the call has been
// attempted. It queues a barrier behind them, so it blocks while the queue is
// full.
func (s *Store) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	select {
	case s.queue <- secondaryWrite{flush: barrier}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping checks both tiers and returns per-tier results.
func (s *Store) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"primary:" + s.primary.Name():     s.primary.Ping(ctx),
		"secondary:" + s.secondary.Name(): s.secondary.Ping(ctx),
	}
}

// Close drains the secondary queue and closes both tiers.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return errors.Join(s.primary.Close(), s.secondary.Close())
}

// putJSON marshals v and writes it with Put.
func (s *Store) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

func decodeTierJSON[T any](ctx context.Context, t interfaces.Tier, key string) (T, error) {
	var out T
	raw, err := t.Get(ctx, key)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// PutMessage writes a message or reply body under its msg: key.
func (s *Store) PutMessage(ctx context.Context, m *types.Message) error {
	stored := *m
	stored.RecentReplies = nil
	return s.putJSON(ctx, MessageKey(m.Timestamp, m.ID), &stored)
}

// GetMessage reads a body by key.
func (s *Store) GetMessage(ctx context.Context, key string) (*types.Message, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var m types.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &m, nil
}

// FindMessage locates a body by id by scanning the msg: namespace of both
// tiers. It returns ErrNotFound when no key ends in the id.
func (s *Store) FindMessage(ctx context.Context, id string) (string, *types.Message, error) {
	if id == "" {
		return "", nil, ErrNotFound
	}
	entries, err := s.List(ctx, MessagePrefix)
	if err != nil {
		return "", nil, err
	}
	for _, e := range entries {
		if !KeyHasID(e.Key, id) {
			continue
		}
		var m types.Message
		if err := json.Unmarshal(e.Value, &m); err != nil {
			return "", nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		return e.Key, &m, nil
	}
	return "", nil, ErrNotFound
}

// AllMessages returns every stored body, top-level and replies, ordered by
// key. Unreadable records are skipped.
func (s *Store) AllMessages(ctx context.Context) ([]types.Message, error) {
	entries, err := s.List(ctx, MessagePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		var m types.Message
		if err := json.Unmarshal(e.Value, &m); err != nil {
			s.logger.Warn().Err(err).Str("key", e.Key).Msg("skipping unreadable message")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Mute returns the identity's mute record, or nil when none exists.
func (s *Store) Mute(ctx context.Context, identity string) (*types.MuteRecord, error) {
	raw, err := s.Get(ctx, MuteKey(identity))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec types.MuteRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode mute record: %w", err)
	}
	return &rec, nil
}
