package models

import "time"

// Membership represents one user's relationship to one server.
//
// Tag is the account tag string used for @-mentions, scoped to the server.
// RoleIDs is the set of roles the member holds; exactly one member per
// server holds the Creator role.
type Membership struct {
	UserID      int64     `json:"user_id"`
	ServerID    int64     `json:"server_id"`
	DisplayName string    `json:"display_name"`
	Tag         string    `json:"tag"`
	Banned      bool      `json:"banned"`
	BanReason   string    `json:"ban_reason,omitempty"`
	RoleIDs     []int64   `json:"role_ids"`
	Since       time.Time `json:"since"`
}

// HasRole reports whether the member holds the given role id.
func (m *Membership) HasRole(roleID int64) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
