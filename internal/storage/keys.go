package storage

import (
	"strconv"
	"strings"

	"chatroom/pkg/types"
)

// Persisted key layout
const (
	MessagePrefix   = "msg:"
	MessageIndexKey = "message_index"
	ThreadPrefix    = "thread:"
	MutePrefix      = "mute:"
)

// MessageKey is the key of a message or reply body.
func MessageKey(timestamp int64, id string) string {
	return MessagePrefix + strconv.FormatInt(timestamp, 10) + ":" + id
}

// ThreadKey is the key of a parent's reply index.
func ThreadKey(parentID string) string {
	return ThreadPrefix + parentID
}

// MuteKey is the key of an identity's mute record.
func MuteKey(identity string) string {
	return MutePrefix + types.NormalizeIdentity(identity)
}

// IDFromKey extracts the id from a msg:{timestamp}:{id} key.
func IDFromKey(key string) string {
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// KeyHasID reports whether key is the body key of id.
func KeyHasID(key, id string) bool {
	return strings.HasPrefix(key, MessagePrefix) && strings.HasSuffix(key, ":"+id)
}
