package room

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"chatroom/internal/metrics"
	"chatroom/internal/sanitize"
	"chatroom/internal/storage"
	"chatroom/pkg/types"
)

// Moderation entry points. Callers are authorized at the API boundary; these
// bypass author and edit-window checks and return unmasked records.

// AdminDeleteMessage soft-deletes a top-level message as actor and returns it
// with its full thread for review.
func (c *Coordinator) AdminDeleteMessage(ctx context.Context, id, actor string) (*types.ThreadView, error) {
	return call(ctx, c, func(actx context.Context) (*types.ThreadView, error) {
		m, err := c.locate(actx, id, false)
		if err != nil {
			return nil, err
		}
		if err := c.forceDelete(actx, m, actor); err != nil {
			return nil, err
		}
		replies, err := c.store.ListReplies(actx, m.ID)
		if err != nil {
			return nil, err
		}
		m.ReplyCount = len(replies)
		metrics.ModerationActions.WithLabelValues("delete_message").Inc()
		c.logger.Info().Str("id", id).Str("actor", actor).Msg("message deleted by moderator")
		return &types.ThreadView{Message: *m, Replies: replies}, nil
	})
}

// AdminDeleteReply soft-deletes a reply as actor and returns it unmasked.
func (c *Coordinator) AdminDeleteReply(ctx context.Context, id, actor string) (*types.Message, error) {
	return call(ctx, c, func(actx context.Context) (*types.Message, error) {
		m, err := c.locate(actx, id, true)
		if err != nil {
			return nil, err
		}
		if err := c.forceDelete(actx, m, actor); err != nil {
			return nil, err
		}
		metrics.ModerationActions.WithLabelValues("delete_reply").Inc()
		c.logger.Info().Str("id", id).Str("actor", actor).Msg("reply deleted by moderator")
		return m, nil
	})
}

func (c *Coordinator) forceDelete(ctx context.Context, m *types.Message, actor string) error {
	if actor == "" {
		actor = "admin"
	}
	m.SoftDelete(actor, c.clock().UnixMilli(), true)
	if err := c.store.PutMessage(ctx, m); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	c.broadcastDeletion(m.ID, m.ReplyTo)
	return nil
}

// AdminEdit replaces the content of any message or reply. Tombstones are not
// editable; their original content stays as it was at deletion.
func (c *Coordinator) AdminEdit(ctx context.Context, id, content string) (*types.Message, error) {
	return call(ctx, c, func(actx context.Context) (*types.Message, error) {
		clean, err := c.cleanContent(content, false)
		if err != nil {
			return nil, err
		}
		_, m, err := c.store.FindMessage(actx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if m.Deleted {
			return nil, ErrNotFound
		}
		m.ApplyEdit(clean, c.clock().UnixMilli())
		if err := c.store.PutMessage(actx, m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		metrics.ModerationActions.WithLabelValues("edit").Inc()
		c.broadcastEdit(m)
		return m, nil
	})
}

// AdminAudit returns every stored top-level message with its full thread,
// unmasked. It scans the message key space of both tiers rather than the
// capped index, so nothing older than the index window is missed.
func (c *Coordinator) AdminAudit(ctx context.Context) ([]types.ThreadView, error) {
	return call(ctx, c, func(actx context.Context) ([]types.ThreadView, error) {
		all, err := c.store.AllMessages(actx)
		if err != nil {
			return nil, err
		}

		threads := make(map[string][]types.Message)
		var tops []types.Message
		for _, m := range all {
			if m.IsReply() {
				threads[m.ReplyTo] = append(threads[m.ReplyTo], m)
			} else {
				tops = append(tops, m)
			}
		}
		sort.SliceStable(tops, func(i, j int) bool { return tops[i].Timestamp < tops[j].Timestamp })

		out := make([]types.ThreadView, 0, len(tops))
		for _, m := range tops {
			replies := threads[m.ID]
			sort.SliceStable(replies, func(i, j int) bool { return replies[i].Timestamp < replies[j].Timestamp })
			if replies == nil {
				replies = []types.Message{}
			}
			m.ReplyCount = len(replies)
			out = append(out, types.ThreadView{Message: m, Replies: replies})
		}
		metrics.ModerationActions.WithLabelValues("audit").Inc()
		return out, nil
	})
}

// Announce broadcasts a room-wide announcement and returns the number of
// sessions reached.
func (c *Coordinator) Announce(ctx context.Context, text string) (int, error) {
	text = sanitize.Text(text)
	if text == "" {
		return 0, ErrValidation
	}
	return call(ctx, c, func(context.Context) (int, error) {
		return c.broadcast(types.EventAnnouncement, types.Payload{
			"message":   text,
			"timestamp": c.clock().UnixMilli(),
		}, nil), nil
	})
}

// Warn sends a warning to every session of identity and returns how many
// matched.
func (c *Coordinator) Warn(ctx context.Context, identity, text string) (int, error) {
	identity = types.NormalizeIdentity(identity)
	text = sanitize.Text(text)
	if identity == "" {
		return 0, ErrMissingIdentity
	}
	if text == "" {
		return 0, ErrValidation
	}
	return call(ctx, c, func(context.Context) (int, error) {
		metrics.EventsBroadcast.WithLabelValues(types.EventWarning).Inc()
		return c.sessions.SendTo(identity, types.NewEvent(types.EventWarning, types.Payload{
			"message":   text,
			"timestamp": c.clock().UnixMilli(),
		})), nil
	})
}

// PropagateDisplayName applies a display name changed elsewhere to every
// session of identity and tells the room. It returns the sessions updated.
func (c *Coordinator) PropagateDisplayName(ctx context.Context, identity, displayName string) (int, error) {
	identity = types.NormalizeIdentity(identity)
	name := sanitize.DisplayName(displayName)
	if identity == "" {
		return 0, ErrMissingIdentity
	}
	if name == "" {
		return 0, ErrValidation
	}
	return call(ctx, c, func(context.Context) (int, error) {
		n := c.sessions.SetDisplayName(identity, name)
		c.broadcast(types.EventDisplayNameChanged, types.Payload{
			"walletAddress": identity,
			"displayName":   name,
		}, nil)
		return n, nil
	})
}

// PropagateDeletion relays a deletion performed elsewhere. parentID is empty
// for top-level messages.
func (c *Coordinator) PropagateDeletion(ctx context.Context, id, parentID string) error {
	if id == "" {
		return ErrValidation
	}
	return c.submit(ctx, func(context.Context) {
		c.broadcastDeletion(id, parentID)
	})
}
