package models

import "time"

// Message represents a durable channel message.
//
// ID is unique within its channel only: the store allocates a monotonically
// increasing per-channel counter, so (ChannelID, ID) is the global key.
// AuthorID is nil once the author's account has been erased.
type Message struct {
	ID        int64      `json:"id"`
	ChannelID int64      `json:"channel_id"`
	AuthorID  *int64     `json:"author_id"`
	Text      string     `json:"text"`
	RoleTags  []int64    `json:"role_tags,omitempty"`
	UserTags  []string   `json:"user_tags,omitempty"`
	ReplyTo   *int64     `json:"reply_to,omitempty"`
	ThreadID  *int64     `json:"thread_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// MessageWithReply pairs a message with a one-level shallow copy of its
// reply target. Reply chains are never rendered recursively.
type MessageWithReply struct {
	Message
	Reply *Message `json:"reply,omitempty"`
}
