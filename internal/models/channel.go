package models

import (
	"encoding/json"
	"sort"
)

// ChannelKind discriminates the channel union. Call sites switch on the
// kind exhaustively instead of testing concrete types.
type ChannelKind int

const (
	ChannelKindText         ChannelKind = 0
	ChannelKindVoice        ChannelKind = 1
	ChannelKindAnnouncement ChannelKind = 2
	ChannelKindPairVoice    ChannelKind = 3
)

// String returns a human-readable name for the channel kind.
func (k ChannelKind) String() string {
	switch k {
	case ChannelKindText:
		return "text"
	case ChannelKindVoice:
		return "voice"
	case ChannelKindAnnouncement:
		return "announcement"
	case ChannelKindPairVoice:
		return "pair_voice"
	default:
		return "unknown"
	}
}

// ParseChannelKind maps a kind name back to its value.
func ParseChannelKind(s string) (ChannelKind, bool) {
	switch s {
	case "text":
		return ChannelKindText, true
	case "voice":
		return ChannelKindVoice, true
	case "announcement":
		return ChannelKindAnnouncement, true
	case "pair_voice":
		return ChannelKindPairVoice, true
	default:
		return 0, false
	}
}

// RoleSet is a set of role ids used for channel grants.
type RoleSet map[int64]struct{}

// NewRoleSet builds a RoleSet from the given ids.
func NewRoleSet(ids ...int64) RoleSet {
	s := make(RoleSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether the set holds the given role id.
func (s RoleSet) Contains(roleID int64) bool {
	_, ok := s[roleID]
	return ok
}

// IDs returns the set contents as a slice, in no particular order.
func (s RoleSet) IDs() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// MarshalJSON encodes the set as a sorted id array.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	ids := s.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return json.Marshal(ids)
}

// UnmarshalJSON decodes an id array into the set.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewRoleSet(ids...)
	return nil
}

// Clone returns an independent copy of the set.
func (s RoleSet) Clone() RoleSet {
	out := make(RoleSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Channel represents a communication surface inside a server.
//
// CanJoin is meaningful for voice kinds, Notified for announcement channels.
// ParentID links a PairVoice thread to the text channel it hangs off.
// Retired channels are soft-deleted and invisible to normal resolution.
type Channel struct {
	ID       int64       `json:"id"`
	ServerID int64       `json:"server_id"`
	Name     string      `json:"name"`
	Kind     ChannelKind `json:"kind"`
	ParentID *int64      `json:"parent_id,omitempty"`
	Capacity int         `json:"capacity,omitempty"` // 0 means unlimited, voice only
	Retired  bool        `json:"retired"`

	CanView  RoleSet `json:"can_view"`
	CanWrite RoleSet `json:"can_write"`
	CanJoin  RoleSet `json:"can_join"`
	Notified RoleSet `json:"notified"`
}

// IsTextCapable reports whether messages can be posted to this channel.
func (c *Channel) IsTextCapable() bool {
	switch c.Kind {
	case ChannelKindText, ChannelKindAnnouncement, ChannelKindPairVoice:
		return true
	case ChannelKindVoice:
		return false
	default:
		return false
	}
}

// IsVoice reports whether the channel hosts voice presence.
func (c *Channel) IsVoice() bool {
	return c.Kind == ChannelKindVoice || c.Kind == ChannelKindPairVoice
}
