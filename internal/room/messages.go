package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"chatroom/internal/metrics"
	"chatroom/internal/sanitize"
	"chatroom/internal/session"
	"chatroom/internal/storage"
	"chatroom/pkg/types"
)

// Notice codes sent in error events
const (
	CodeRateLimited = "rate_limited"
	CodeMuted       = "muted"
	CodeSendFailed  = "send_failed"
	CodeReplyFailed = "reply_failed"
	CodeForbidden   = "forbidden"
	CodeEditExpired = "edit_expired"
)

// SendMessage posts a top-level message on behalf of the session behind h.
func (c *Coordinator) SendMessage(ctx context.Context, h session.Handle, content string, isGif bool, mentions []string) (*types.Message, error) {
	var msg *types.Message
	err := c.withSession(ctx, h, func(actx context.Context, s *session.Session) error {
		var err error
		msg, err = c.sendMessage(actx, s, content, isGif, mentions)
		return err
	})
	return msg, err
}

// SendReply posts a reply to parentID on behalf of the session behind h.
func (c *Coordinator) SendReply(ctx context.Context, h session.Handle, parentID, content string, isGif bool) (*types.Message, error) {
	var reply *types.Message
	err := c.withSession(ctx, h, func(actx context.Context, s *session.Session) error {
		var err error
		reply, err = c.sendReply(actx, s, parentID, content, isGif)
		return err
	})
	return reply, err
}

// cleanContent validates content and returns the form to store. GIF
// references are validated as URLs and stored as sent.
func (c *Coordinator) cleanContent(content string, isGif bool) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty", ErrValidation)
	}
	n := utf8.RuneCountInString(content)
	if isGif {
		if n > c.opts.MaxGifLength {
			return "", fmt.Errorf("%w: gif reference longer than %d", ErrValidation, c.opts.MaxGifLength)
		}
		if !sanitize.IsGifURL(content) {
			return "", fmt.Errorf("%w: gif reference is not a URL", ErrValidation)
		}
		return content, nil
	}
	if n > c.opts.MaxContentLength {
		return "", fmt.Errorf("%w: longer than %d", ErrValidation, c.opts.MaxContentLength)
	}
	clean := sanitize.Text(content)
	if clean == "" {
		return "", fmt.Errorf("%w: empty after sanitizing", ErrValidation)
	}
	return clean, nil
}

// admit applies the rate limiter, then the mute check, notifying the
// session on rejection.
func (c *Coordinator) admit(ctx context.Context, s *session.Session) error {
	now := c.clock()
	if res := c.limiter.Check(s, now); res.Limited {
		metrics.MessagesRejected.WithLabelValues(CodeRateLimited).Inc()
		c.notify(s, CodeRateLimited,
			fmt.Sprintf("Slow down! You can send again in %d second(s).", res.Remaining),
			types.Payload{"remaining": res.Remaining})
		return &RateLimitedError{Remaining: res.Remaining}
	}

	mute, err := c.store.Mute(ctx, s.Identity)
	if err != nil {
		// unreadable mute records do not block the room
		c.logger.Warn().Err(err).Str("wallet", s.Identity).Msg("mute lookup failed")
		return nil
	}
	if mute == nil || mute.Until <= now.UnixMilli() {
		return nil
	}
	minutes := ceilDiv(mute.Until-now.UnixMilli(), 60_000)
	metrics.MessagesRejected.WithLabelValues(CodeMuted).Inc()
	c.notify(s, CodeMuted,
		fmt.Sprintf("You are muted for %d more minute(s). Reason: %s", minutes, mute.Reason),
		types.Payload{"remaining": minutes, "reason": mute.Reason})
	return &MutedError{Minutes: minutes, Reason: mute.Reason}
}

func (c *Coordinator) newMessage(s *session.Session, content string, isGif bool) *types.Message {
	return &types.Message{
		ID:            ulid.Make().String(),
		WalletAddress: s.Identity,
		DisplayName:   s.DisplayName,
		Content:       content,
		Timestamp:     c.clock().UnixMilli(),
		IsGif:         isGif,
	}
}

func (c *Coordinator) sendMessage(ctx context.Context, s *session.Session, content string, isGif bool, mentions []string) (*types.Message, error) {
	clean, err := c.cleanContent(content, isGif)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}
	if err := c.admit(ctx, s); err != nil {
		return nil, err
	}

	msg := c.newMessage(s, clean, isGif)
	msg.Mentions = normalizeMentions(mentions)

	key := storage.MessageKey(msg.Timestamp, msg.ID)
	if err := c.store.PutMessage(ctx, msg); err != nil {
		c.logger.Error().Err(err).Str("wallet", s.Identity).Msg("message persistence failed")
		c.notify(s, CodeSendFailed, "Failed to send message", nil)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := c.store.AppendMessageIndex(ctx, key, msg.Timestamp); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("message index update failed")
		c.notify(s, CodeSendFailed, "Failed to send message", nil)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	metrics.MessagesAccepted.WithLabelValues("message").Inc()
	c.broadcast(types.EventNewMessage, types.Payload{"message": msg.Masked()}, nil)
	return msg, nil
}

// sendReply persists the reply and its thread entry before anything is
// broadcast, so no client sees a reply that is not in storage.
func (c *Coordinator) sendReply(ctx context.Context, s *session.Session, parentID, content string, isGif bool) (*types.Message, error) {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: missing parent id", ErrValidation)
	}
	clean, err := c.cleanContent(content, isGif)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}
	if err := c.admit(ctx, s); err != nil {
		return nil, err
	}

	_, parent, err := c.store.FindMessage(ctx, parentID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && parent.IsReply()) {
		c.notify(s, CodeReplyFailed, "The message you replied to does not exist", types.Payload{"parentId": parentID})
		return nil, ErrNotFound
	}
	if err != nil {
		c.notify(s, CodeReplyFailed, "Failed to send reply", types.Payload{"parentId": parentID})
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	reply := c.newMessage(s, clean, isGif)
	reply.ReplyTo = parentID

	if err := c.store.PutMessage(ctx, reply); err != nil {
		return nil, c.replyFailed(s, parentID, err)
	}
	if err := c.store.AddReply(ctx, parentID, reply.ID, reply.Timestamp); err != nil {
		return nil, c.replyFailed(s, parentID, err)
	}
	count, err := c.store.ReplyCount(ctx, parentID)
	if err != nil {
		c.logger.Warn().Err(err).Str("parent_id", parentID).Msg("reply count unavailable")
	}

	metrics.MessagesAccepted.WithLabelValues("reply").Inc()
	c.broadcast(types.EventNewReply, types.Payload{
		"parentId":   parentID,
		"reply":      reply.Masked(),
		"replyCount": count,
	}, nil)
	return reply, nil
}

func (c *Coordinator) replyFailed(s *session.Session, parentID string, err error) error {
	c.logger.Error().Err(err).Str("parent_id", parentID).Str("wallet", s.Identity).Msg("reply persistence failed")
	c.notify(s, CodeReplyFailed, "Failed to send reply", types.Payload{"parentId": parentID})
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// normalizeMentions lowercases and de-duplicates mentioned identities,
// keeping first-seen order.
func normalizeMentions(mentions []string) []string {
	if len(mentions) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(mentions))
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		id := types.NormalizeIdentity(m)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
