package types

import (
	"encoding/json"
	"strings"
)

// NewEvent builds an outbound event envelope.
func NewEvent(kind string, data Payload) Event {
	return Event{Type: kind, Data: data}
}

// NormalizeIdentity lowercases and trims a wallet identity so comparisons are
// case-insensitive everywhere.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// SameIdentity reports whether two identities refer to the same wallet.
func SameIdentity(a, b string) bool {
	return NormalizeIdentity(a) == NormalizeIdentity(b)
}

// ParseInbound decodes a client frame.
func ParseInbound(raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, ErrMissingType
	}
	return &in, nil
}

// TargetID returns the id an edit/delete/reaction frame refers to. Clients
// send it under messageId, replyId or id depending on their version.
func (in *Inbound) TargetID() string {
	switch {
	case in.MessageID != "":
		return in.MessageID
	case in.ReplyID != "":
		return in.ReplyID
	default:
		return in.ID
	}
}

// IsReply reports whether the message belongs to a thread.
func (m *Message) IsReply() bool {
	return m.ReplyTo != ""
}

// Clone returns a deep copy so callers can mutate it without touching a
// shared record.
func (m *Message) Clone() *Message {
	c := *m
	if m.Mentions != nil {
		c.Mentions = append([]string(nil), m.Mentions...)
	}
	if m.Reactions != nil {
		c.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, who := range m.Reactions {
			c.Reactions[emoji] = append([]string(nil), who...)
		}
	}
	if m.EditHistory != nil {
		c.EditHistory = append([]EditRecord(nil), m.EditHistory...)
	}
	if m.RecentReplies != nil {
		c.RecentReplies = append([]Message(nil), m.RecentReplies...)
	}
	return &c
}

// Masked returns the view served to ordinary readers: moderation fields are
// stripped and deleted content is replaced by the placeholder.
func (m *Message) Masked() Message {
	c := *m.Clone()
	c.OriginalContent = ""
	c.EditHistory = nil
	c.DeletedBy = ""
	if c.Deleted {
		c.Content = DeletedPlaceholder
	}
	return c
}

// SoftDelete turns the message into a tombstone.
func (m *Message) SoftDelete(actor string, at int64, admin bool) {
	if !m.Deleted {
		m.OriginalContent = m.Content
	}
	m.Deleted = true
	m.DeletedAt = at
	m.DeletedBy = actor
	m.AdminDeleted = m.AdminDeleted || admin
	m.Content = DeletedPlaceholder
}

// ApplyEdit records the prior content in the edit history and replaces it.
func (m *Message) ApplyEdit(content string, at int64) {
	m.EditHistory = append(m.EditHistory, EditRecord{Content: m.Content, EditedAt: at})
	m.Content = content
	m.EditedAt = at
}

// ToggleReaction flips identity's membership in emoji's reactor set and
// reports whether it was added. Empty reactor sets are removed.
func (m *Message) ToggleReaction(emoji, identity string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	reactors := m.Reactions[emoji]
	for i, who := range reactors {
		if SameIdentity(who, identity) {
			reactors = append(reactors[:i:i], reactors[i+1:]...)
			if len(reactors) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = reactors
			}
			return false
		}
	}
	m.Reactions[emoji] = append(reactors, NormalizeIdentity(identity))
	return true
}
