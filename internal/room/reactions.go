package room

import (
	"context"
	"errors"
	"fmt"

	"chatroom/internal/metrics"
	"chatroom/internal/session"
	"chatroom/internal/storage"
	"chatroom/pkg/types"
)

// AllowedEmoji is the reaction allow-list.
var AllowedEmoji = []string{"👍", "❤️", "😂", "😮", "😢", "🔥", "🎉", "👀"}

var allowedEmoji = func() map[string]bool {
	m := make(map[string]bool, len(AllowedEmoji))
	for _, e := range AllowedEmoji {
		m[e] = true
	}
	return m
}()

// ToggleReaction adds or removes the session's reaction on a top-level
// message.
func (c *Coordinator) ToggleReaction(ctx context.Context, h session.Handle, messageID, emoji string) error {
	return c.withSession(ctx, h, func(actx context.Context, s *session.Session) error {
		return c.toggleReaction(actx, s, messageID, emoji)
	})
}

// indexedKey resolves a top-level message key through the merged room
// index, falling back to a key scan for messages older than the index.
func (c *Coordinator) indexedKey(ctx context.Context, id string) (string, error) {
	index, err := c.store.MessageIndex(ctx)
	if err != nil {
		return "", err
	}
	for i := len(index) - 1; i >= 0; i-- {
		if storage.KeyHasID(index[i].Key, id) {
			return index[i].Key, nil
		}
	}
	key, m, err := c.store.FindMessage(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && m.IsReply()) {
		return "", ErrNotFound
	}
	return key, err
}

func (c *Coordinator) toggleReaction(ctx context.Context, s *session.Session, messageID, emoji string) error {
	if !allowedEmoji[emoji] {
		return ErrInvalidEmoji
	}
	if messageID == "" {
		return ErrNotFound
	}
	key, err := c.indexedKey(ctx, messageID)
	if err != nil {
		return err
	}
	m, err := c.store.GetMessage(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if m.Deleted {
		return ErrNotFound
	}

	action := "removed"
	if m.ToggleReaction(emoji, s.Identity) {
		action = "added"
	}
	if err := c.store.PutMessage(ctx, m); err != nil {
		c.logger.Error().Err(err).Str("id", messageID).Msg("reaction persistence failed")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	reactions := m.Reactions
	if reactions == nil {
		reactions = map[string][]string{}
	}
	metrics.ReactionsToggled.WithLabelValues(action).Inc()
	c.broadcast(types.EventReactionUpdated, types.Payload{
		"messageId":     m.ID,
		"emoji":         emoji,
		"reactions":     reactions,
		"action":        action,
		"walletAddress": s.Identity,
	}, nil)
	return nil
}
