package models

// RoleKind orders roles by authority. Creator and Admin are structural:
// they cannot be deleted and bypass explicit channel grants.
type RoleKind int

const (
	RoleKindCreator RoleKind = 0
	RoleKindAdmin   RoleKind = 1
	RoleKindCustom  RoleKind = 2
)

// String returns a human-readable name for the role kind.
func (k RoleKind) String() string {
	switch k {
	case RoleKindCreator:
		return "creator"
	case RoleKindAdmin:
		return "admin"
	case RoleKindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Capabilities is the set of server-wide boolean capabilities a role grants.
type Capabilities struct {
	ChangeRoles           bool `json:"change_roles"`
	ManageChannels        bool `json:"manage_channels"`
	DeleteUsers           bool `json:"delete_users"`
	MuteOthers            bool `json:"mute_others"`
	DeleteOthersMessages  bool `json:"delete_others_messages"`
	IgnoreChannelCapacity bool `json:"ignore_channel_capacity"`
	CreateRoles           bool `json:"create_roles"`
	CreateLessons         bool `json:"create_lessons"`
	CheckAttendance       bool `json:"check_attendance"`
	UseInvitations        bool `json:"use_invitations"`
}

// Role represents one role belonging to a server.
type Role struct {
	ID           int64        `json:"id"`
	ServerID     int64        `json:"server_id"`
	Name         string       `json:"name"`
	Color        string       `json:"color"`
	Kind         RoleKind     `json:"kind"`
	Capabilities Capabilities `json:"capabilities"`
}

// IsStructural reports whether the role is one of the two built-in kinds
// that exist on every server and cannot be removed.
func (r *Role) IsStructural() bool {
	return r.Kind == RoleKindCreator || r.Kind == RoleKindAdmin
}

// Server represents a tenant community. OwnerID tracks the user currently
// holding the Creator role.
type Server struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
}
