package types

// Client→room event kinds
const (
	InboundMessage           = "message"
	InboundReply             = "reply"
	InboundEdit              = "edit"
	InboundDelete            = "delete"
	InboundEditReply         = "edit_reply"
	InboundDeleteReply       = "delete_reply"
	InboundReaction          = "reaction"
	InboundTyping            = "typing"
	InboundStopTyping        = "stop_typing"
	InboundPing              = "ping"
	InboundUpdateDisplayName = "update_display_name"
)

// Room→client event kinds
const (
	EventOnlineUsers        = "online_users"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventNewMessage         = "new_message"
	EventNewReply           = "new_reply"
	EventMessageEdited      = "message_edited"
	EventReplyEdited        = "reply_edited"
	EventMessageDeleted     = "message_deleted"
	EventReplyDeleted       = "reply_deleted"
	EventReactionUpdated    = "reaction_updated"
	EventUserTyping         = "user_typing"
	EventUserStopTyping     = "user_stop_typing"
	EventDisplayNameChanged = "displayname_changed"
	EventAnnouncement       = "announcement"
	EventWarning            = "warning"
	EventError              = "error"
	EventPong               = "pong"
)

// DeletedPlaceholder replaces the content of soft-deleted records for
// non-privileged readers.
const DeletedPlaceholder = "[message deleted]"

// EditRecord is one prior version of an edited message.
type EditRecord struct {
	Content  string `json:"content"`
	EditedAt int64  `json:"editedAt"`
}

// Message is the persisted shape shared by top-level messages and replies.
// A reply sets ReplyTo to its parent's id. Deletion is a tombstone: Deleted is
// set, Content carries the placeholder and OriginalContent keeps the text.
// All timestamps are unix milliseconds.
type Message struct {
	ID              string              `json:"id"`
	WalletAddress   string              `json:"walletAddress"`
	DisplayName     string              `json:"displayName"`
	Content         string              `json:"content"`
	Timestamp       int64               `json:"timestamp"`
	ReplyTo         string              `json:"replyTo,omitempty"`
	ReplyCount      int                 `json:"replyCount"`
	IsGif           bool                `json:"isGif"`
	Mentions        []string            `json:"mentions,omitempty"`
	Reactions       map[string][]string `json:"reactions,omitempty"`
	Deleted         bool                `json:"deleted,omitempty"`
	DeletedAt       int64               `json:"deletedAt,omitempty"`
	DeletedBy       string              `json:"deletedBy,omitempty"`
	AdminDeleted    bool                `json:"adminDeleted,omitempty"`
	OriginalContent string              `json:"originalContent,omitempty"`
	EditedAt        int64               `json:"editedAt,omitempty"`
	EditHistory     []EditRecord        `json:"editHistory,omitempty"`

	// Read-time projection for history views; never persisted.
	RecentReplies []Message `json:"recentReplies,omitempty"`
}

// IndexEntry is one row of the room-wide message index.
type IndexEntry struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
}

// ThreadEntry is one row of a per-parent thread index.
type ThreadEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// MuteRecord is written by an external moderation service and only read here.
type MuteRecord struct {
	WalletAddress string `json:"walletAddress"`
	Until         int64  `json:"until"`
	Reason        string `json:"reason"`
}

// OnlineUser is one entry of the online roster.
type OnlineUser struct {
	WalletAddress string `json:"walletAddress"`
	DisplayName   string `json:"displayName"`
}

// ThreadView is a top-level message together with every reply, as returned
// to moderators.
type ThreadView struct {
	Message Message   `json:"message"`
	Replies []Message `json:"replies"`
}

// Payload is the data body of an outbound event.
type Payload map[string]interface{}

// Event is the envelope written to clients.
type Event struct {
	Type string  `json:"type"`
	Data Payload `json:"data,omitempty"`
}

// Inbound is the envelope read from clients. Only the fields relevant to
// Type are populated.
type Inbound struct {
	Type        string   `json:"type"`
	Content     string   `json:"content,omitempty"`
	IsGif       bool     `json:"isGif,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`
	ParentID    string   `json:"parentId,omitempty"`
	MessageID   string   `json:"messageId,omitempty"`
	ReplyID     string   `json:"replyId,omitempty"`
	ID          string   `json:"id,omitempty"`
	Emoji       string   `json:"emoji,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
}
