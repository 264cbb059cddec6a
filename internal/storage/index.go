package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"chatroom/pkg/interfaces"
	"chatroom/pkg/types"
)

// readBoth decodes key from each tier independently. A missing or
// unreadable secondary copy is treated as empty; a primary read error other
// than a miss is returned.
func readBoth[T any](ctx context.Context, s *Store, key string) (primary, secondary []T, err error) {
	primary, err = decodeTierJSON[[]T](ctx, s.primary, key)
	if err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("primary read %s: %w", key, err)
	}
	secondary, serr := decodeTierJSON[[]T](ctx, s.secondary, key)
	if serr != nil {
		if !errors.Is(serr, interfaces.ErrKeyNotFound) {
			s.logger.Warn().Err(serr).Str("key", key).Msg("secondary index read failed")
		}
		secondary = nil
	}
	return primary, secondary, nil
}

// MessageIndex returns the room-wide index merged across both tiers,
// de-duplicated by key with primary precedence and sorted by timestamp.
func (s *Store) MessageIndex(ctx context.Context) ([]types.IndexEntry, error) {
	primary, secondary, err := readBoth[types.IndexEntry](ctx, s, MessageIndexKey)
	if err != nil {
		return nil, err
	}
	return mergeIndex(primary, secondary), nil
}

func mergeIndex(primary, secondary []types.IndexEntry) []types.IndexEntry {
	seen := make(map[string]bool, len(primary)+len(secondary))
	out := make([]types.IndexEntry, 0, len(primary)+len(secondary))
	for _, list := range [][]types.IndexEntry{primary, secondary} {
		for _, e := range list {
			if e.Key == "" || seen[e.Key] {
				continue
			}
			seen[e.Key] = true
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// AppendMessageIndex adds key to the room-wide index, keeps the most recent
// IndexCap entries and writes the result to both tiers.
func (s *Store) AppendMessageIndex(ctx context.Context, key string, timestamp int64) error {
	index, err := s.MessageIndex(ctx)
	if err != nil {
		return err
	}
	index = mergeIndex(index, []types.IndexEntry{{Key: key, Timestamp: timestamp}})
	if len(index) > s.opts.IndexCap {
		index = index[len(index)-s.opts.IndexCap:]
	}
	return s.putJSON(ctx, MessageIndexKey, index)
}

// ThreadIndex returns parentID's reply index merged across both tiers,
// de-duplicated by reply id with primary precedence and sorted by timestamp.
func (s *Store) ThreadIndex(ctx context.Context, parentID string) ([]types.ThreadEntry, error) {
	primary, secondary, err := readBoth[types.ThreadEntry](ctx, s, ThreadKey(parentID))
	if err != nil {
		return nil, err
	}
	return mergeThread(primary, secondary), nil
}

func mergeThread(primary, secondary []types.ThreadEntry) []types.ThreadEntry {
	seen := make(map[string]bool, len(primary)+len(secondary))
	out := make([]types.ThreadEntry, 0, len(primary)+len(secondary))
	for _, list := range [][]types.ThreadEntry{primary, secondary} {
		for _, e := range list {
			if e.ID == "" || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddReply appends replyID to parentID's thread index. Thread indexes are
// not capped.
func (s *Store) AddReply(ctx context.Context, parentID, replyID string, timestamp int64) error {
	if parentID == "" || replyID == "" {
		return types.ErrEmptyID
	}
	thread, err := s.ThreadIndex(ctx, parentID)
	if err != nil {
		return err
	}
	thread = mergeThread(thread, []types.ThreadEntry{{ID: replyID, Timestamp: timestamp}})
	return s.putJSON(ctx, ThreadKey(parentID), thread)
}

// ReplyCount is the number of distinct replies indexed under parentID.
func (s *Store) ReplyCount(ctx context.Context, parentID string) (int, error) {
	thread, err := s.ThreadIndex(ctx, parentID)
	if err != nil {
		return 0, err
	}
	return len(thread), nil
}

// ListReplies resolves every indexed reply of parentID in timestamp order.
// Entries whose body can no longer be read in either tier are skipped.
func (s *Store) ListReplies(ctx context.Context, parentID string) ([]types.Message, error) {
	thread, err := s.ThreadIndex(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return s.resolveReplies(ctx, thread)
}

func (s *Store) resolveReplies(ctx context.Context, thread []types.ThreadEntry) ([]types.Message, error) {
	out := make([]types.Message, 0, len(thread))
	for _, e := range thread {
		m, err := s.GetMessage(ctx, MessageKey(e.Timestamp, e.ID))
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug().Str("reply_id", e.ID).Msg("indexed reply has no body")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// RecentReplies returns the total reply count of parentID and its last n
// replies in timestamp order.
func (s *Store) RecentReplies(ctx context.Context, parentID string, n int) (int, []types.Message, error) {
	thread, err := s.ThreadIndex(ctx, parentID)
	if err != nil {
		return 0, nil, err
	}
	total := len(thread)
	if n >= 0 && len(thread) > n {
		thread = thread[len(thread)-n:]
	}
	replies, err := s.resolveReplies(ctx, thread)
	return total, replies, err
}
