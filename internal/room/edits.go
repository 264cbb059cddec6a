package room

import (
	"context"
	"errors"
	"fmt"

	"chatroom/internal/session"
	"chatroom/internal/storage"
	"chatroom/pkg/types"
)

// EditMessage replaces the content of the session's own top-level message.
func (c *Coordinator) EditMessage(ctx context.Context, h session.Handle, id, content string) error {
	return c.withSession(ctx, h, func(actx context.Context, s *session.Session) error {
		return c.edit(actx, s, id, content, false)
	})
}

// EditReply replaces the content of the session's own reply.
func (c *Coordinator) EditReply(ctx context.Context, h session.Handle, id, content string) error {
	return c.withSession(ctx, h, func(actx context.Context, s *session.Session) error {
		return c.edit(actx, s, id, content, true)
	})
}

// DeleteMessage soft-deletes the session's own top-level message.
func (c *Coordinator) DeleteMessage(ctx context.Context, h session.Handle, id string) error {
	return c.withSession(ctx, h, func(actx context.Context, s *session.Session) error {
		return c.delete(actx, s, id, false)
	})
}

// DeleteReply soft-deletes the session's own reply.
func (c *Coordinator) DeleteReply(ctx context.Context, h session.Handle, id string) error {
	return c.withSession(ctx, h, func(actx context.Context, s *session.Session) error {
		return c.delete(actx, s, id, true)
	})
}

// locate finds a live message or reply by id. A kind mismatch counts as
// not found.
func (c *Coordinator) locate(ctx context.Context, id string, reply bool) (*types.Message, error) {
	_, m, err := c.store.FindMessage(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.IsReply() != reply {
		return nil, ErrNotFound
	}
	return m, nil
}

func (c *Coordinator) edit(ctx context.Context, s *session.Session, id, content string, reply bool) error {
	clean, err := c.cleanContent(content, false)
	if err != nil {
		return err
	}
	m, err := c.locate(ctx, id, reply)
	if err != nil {
		return err
	}
	if m.Deleted {
		return ErrNotFound
	}
	if !types.SameIdentity(m.WalletAddress, s.Identity) {
		c.notify(s, CodeForbidden, "You can only edit your own messages", types.Payload{"id": id})
		return ErrForbidden
	}
	now := c.clock().UnixMilli()
	if now-m.Timestamp > c.opts.EditWindow.Milliseconds() {
		c.notify(s, CodeEditExpired,
			fmt.Sprintf("Messages can only be edited within %d minutes", int(c.opts.EditWindow.Minutes())),
			types.Payload{"id": id})
		return ErrEditWindowExpired
	}

	m.ApplyEdit(clean, now)
	if err := c.store.PutMessage(ctx, m); err != nil {
		c.logger.Error().Err(err).Str("id", id).Msg("edit persistence failed")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	c.broadcastEdit(m)
	return nil
}

func (c *Coordinator) broadcastEdit(m *types.Message) {
	data := types.Payload{"id": m.ID, "content": m.Content, "editedAt": m.EditedAt}
	kind := types.EventMessageEdited
	if m.IsReply() {
		kind = types.EventReplyEdited
		data["parentId"] = m.ReplyTo
	}
	c.broadcast(kind, data, nil)
}

func (c *Coordinator) delete(ctx context.Context, s *session.Session, id string, reply bool) error {
	m, err := c.locate(ctx, id, reply)
	if err != nil {
		return err
	}
	if !types.SameIdentity(m.WalletAddress, s.Identity) {
		c.notify(s, CodeForbidden, "You can only delete your own messages", types.Payload{"id": id})
		return ErrForbidden
	}
	if m.Deleted {
		return nil
	}

	m.SoftDelete(s.Identity, c.clock().UnixMilli(), false)
	if err := c.store.PutMessage(ctx, m); err != nil {
		c.logger.Error().Err(err).Str("id", id).Msg("delete persistence failed")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	c.broadcastDeletion(m.ID, m.ReplyTo)
	return nil
}

// broadcastDeletion announces a deletion by id only; content never leaves.
func (c *Coordinator) broadcastDeletion(id, parentID string) {
	if parentID == "" {
		c.broadcast(types.EventMessageDeleted, types.Payload{"id": id}, nil)
		return
	}
	c.broadcast(types.EventReplyDeleted, types.Payload{"id": id, "parentId": parentID}, nil)
}
