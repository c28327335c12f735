// Package store defines the persistence contract consumed by the core
// services. Implementations must make InsertMessage's per-channel id
// allocation and MovePresence's remove-then-insert atomic; everything else
// is plain row access.
package store

import (
	"context"
	"errors"

	"github.com/parlorchat/parlor-server/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist. Services
// translate it into a typed apperr with the right subject.
var ErrNotFound = errors.New("store: not found")

// ErrChannelFull is returned by MovePresence when the target channel is at
// capacity. The check happens inside the atomic move so a join burst can
// never overshoot.
var ErrChannelFull = errors.New("store: channel at capacity")

// ErrReplyNotFound is returned by InsertMessage when the reply target is
// missing from the channel. The check happens inside the atomic insert so
// a concurrent delete of the target cannot slip between validation and
// persist.
var ErrReplyNotFound = errors.New("store: reply target not found")

// PresenceUpdate is a partial update of presence flags; nil fields are
// left unchanged.
type PresenceUpdate struct {
	MutedSelf    *bool
	MutedByOther *bool
	Streaming    *bool
}

// GrantSets bundles the four per-channel role-grant sets.
type GrantSets struct {
	CanView  models.RoleSet
	CanWrite models.RoleSet
	CanJoin  models.RoleSet
	Notified models.RoleSet
}

// Store is the transactional persistence interface.
type Store interface {
	// Servers and memberships.
	CreateServer(ctx context.Context, s *models.Server) error
	GetServer(ctx context.Context, id int64) (*models.Server, error)
	CreateMembership(ctx context.Context, m *models.Membership) error
	GetMembership(ctx context.Context, serverID, userID int64) (*models.Membership, error)
	ListMemberships(ctx context.Context, serverID int64) ([]models.Membership, error)

	// Roles.
	CreateRole(ctx context.Context, r *models.Role) error
	GetRole(ctx context.Context, id int64) (*models.Role, error)
	ListRoles(ctx context.Context, serverID int64) ([]models.Role, error)
	RolesForUser(ctx context.Context, serverID, userID int64) ([]models.Role, error)
	// DeleteRole removes the role, its channel grants and member
	// assignments in one transaction.
	DeleteRole(ctx context.Context, id int64) error
	AssignRole(ctx context.Context, serverID, userID, roleID int64) error
	UnassignRole(ctx context.Context, serverID, userID, roleID int64) error
	// TransferOwnership atomically moves the Creator role and the server
	// owner pointer from one member to another.
	TransferOwnership(ctx context.Context, serverID, fromUser, toUser int64) error

	// Channels. GetChannel hides retired channels; GetChannelAny does not
	// and exists for the restore path.
	CreateChannel(ctx context.Context, c *models.Channel) error
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)
	GetChannelAny(ctx context.Context, id int64) (*models.Channel, error)
	ListChannels(ctx context.Context, serverID int64) ([]models.Channel, error)
	SetChannelRetired(ctx context.Context, id int64, retired bool) error
	UpdateChannelGrants(ctx context.Context, id int64, grants GrantSets) error

	// Messages. InsertMessage assigns the next per-channel id and the
	// created timestamp; ids are strictly increasing with no duplicates
	// under concurrent inserts to the same channel. A non-nil ReplyTo
	// must reference an existing message of the same channel at insert
	// time (ErrReplyNotFound otherwise).
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, channelID, messageID int64) (*models.Message, error)
	UpdateMessageText(ctx context.Context, channelID, messageID int64, text string) (*models.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
	// ListMessages returns up to limit messages with id < beforeID,
	// newest first. beforeID <= 0 means "from the latest".
	ListMessages(ctx context.Context, channelID, beforeID int64, limit int) ([]models.Message, error)

	// Voice presence. MovePresence enforces the single-location invariant
	// and the capacity limit (capacity <= 0 means unlimited) atomically.
	GetPresence(ctx context.Context, userID int64) (*models.Presence, error)
	MovePresence(ctx context.Context, userID, channelID int64, capacity int) (*models.Presence, error)
	ClearPresence(ctx context.Context, userID int64) (*models.Presence, error)
	UpdatePresenceFlags(ctx context.Context, userID, channelID int64, upd PresenceUpdate) (*models.Presence, error)
	Roster(ctx context.Context, channelID int64) ([]models.Presence, error)
}
