package models

// Presence is one user's state in one voice channel.
//
// Invariant: for a given user id, at most one row across the whole system
// has Inside set. Joining a new channel is an atomic remove-then-insert.
// Mute flags persist across moves; Streaming resets on every move.
type Presence struct {
	UserID       int64 `json:"user_id"`
	ChannelID    int64 `json:"channel_id"`
	Inside       bool  `json:"inside"`
	MutedSelf    bool  `json:"muted_self"`
	MutedByOther bool  `json:"muted_by_other"`
	Streaming    bool  `json:"streaming"`
}

// IsDefault reports whether the row carries no state worth keeping.
// Leave removes fully-default rows instead of retaining them.
func (p *Presence) IsDefault() bool {
	return !p.Inside && !p.MutedSelf && !p.MutedByOther && !p.Streaming
}
