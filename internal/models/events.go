package models

import "time"

// Event names pushed to live connections.
const (
	EventNewMessage     = "NewMessage"
	EventUpdatedMessage = "UpdatedMessage"
	EventDeletedMessage = "DeletedMessage"
	EventMessageAlert   = "MessageAlert"
	EventPresenceDelta  = "PresenceDelta"
)

// MessageEvent is the payload for NewMessage, UpdatedMessage and
// MessageAlert. MessageAlert reuses the NewMessage payload verbatim.
type MessageEvent struct {
	ServerID  int64      `json:"server_id"`
	ChannelID int64      `json:"channel_id"`
	MessageID int64      `json:"message_id"`
	AuthorID  *int64     `json:"author_id"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	ReplyTo   *int64     `json:"reply_to,omitempty"`
}

// DeletedMessageEvent is a tombstone: id and channel only, never the body,
// so deleted content is never re-sent to clients.
type DeletedMessageEvent struct {
	ChannelID int64 `json:"channel_id"`
	MessageID int64 `json:"message_id"`
}

// PresenceDeltaEvent mirrors one presence row after a change.
type PresenceDeltaEvent struct {
	ChannelID    int64 `json:"channel_id"`
	UserID       int64 `json:"user_id"`
	Inside       bool  `json:"inside"`
	MutedSelf    bool  `json:"muted_self"`
	MutedByOther bool  `json:"muted_by_other"`
	Streaming    bool  `json:"streaming"`
}

// NewMessageEvent builds the push payload for a persisted message.
func NewMessageEvent(serverID int64, m *Message) MessageEvent {
	return MessageEvent{
		ServerID:  serverID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		AuthorID:  m.AuthorID,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		ReplyTo:   m.ReplyTo,
	}
}

// NewPresenceDeltaEvent builds the push payload for a presence row.
func NewPresenceDeltaEvent(p *Presence) PresenceDeltaEvent {
	return PresenceDeltaEvent{
		ChannelID:    p.ChannelID,
		UserID:       p.UserID,
		Inside:       p.Inside,
		MutedSelf:    p.MutedSelf,
		MutedByOther: p.MutedByOther,
		Streaming:    p.Streaming,
	}
}
