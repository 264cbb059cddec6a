package room

import (
	"context"
	"errors"

	"chatroom/internal/storage"
	"chatroom/pkg/types"
)

// History returns the indexed top-level messages newer than after (all of
// them when after is zero), oldest first. Each carries its reply count and
// most recent replies. Everything is masked for ordinary readers.
func (c *Coordinator) History(ctx context.Context, after int64) ([]types.Message, error) {
	return call(ctx, c, func(actx context.Context) ([]types.Message, error) {
		return c.history(actx, after)
	})
}

func (c *Coordinator) history(ctx context.Context, after int64) ([]types.Message, error) {
	index, err := c.store.MessageIndex(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]types.Message, 0, len(index))
	for _, e := range index {
		if after > 0 && e.Timestamp <= after {
			continue
		}
		m, err := c.store.GetMessage(ctx, e.Key)
		if errors.Is(err, storage.ErrNotFound) {
			c.logger.Debug().Str("key", e.Key).Msg("indexed message has no body")
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.IsReply() {
			continue
		}

		total, recent, err := c.store.RecentReplies(ctx, m.ID, c.opts.RecentReplies)
		if err != nil {
			return nil, err
		}
		view := m.Masked()
		view.ReplyCount = total
		view.RecentReplies = maskAll(recent)
		out = append(out, view)
	}
	return out, nil
}

// Thread returns every reply of messageID, oldest first, masked.
func (c *Coordinator) Thread(ctx context.Context, messageID string) ([]types.Message, error) {
	return call(ctx, c, func(actx context.Context) ([]types.Message, error) {
		replies, err := c.store.ListReplies(actx, messageID)
		if err != nil {
			return nil, err
		}
		if len(replies) == 0 {
			if _, err := c.locate(actx, messageID, false); err != nil {
				return nil, err
			}
		}
		return maskAll(replies), nil
	})
}

func maskAll(ms []types.Message) []types.Message {
	out := make([]types.Message, len(ms))
	for i := range ms {
		out[i] = ms[i].Masked()
	}
	return out
}
