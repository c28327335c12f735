// Package authz resolves whether an already-authenticated actor may
// perform an operation. Every check is read-only, so callers can invoke
// checks in parallel and retry freely; state changes happen elsewhere.
package authz

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/apperr"
	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/permissions"
	"github.com/parlorchat/parlor-server/internal/store"
)

// Resolver answers authorization questions with typed failures.
type Resolver struct {
	store  store.Store
	logger *zap.Logger
}

// NewResolver creates a resolver over the given store.
func NewResolver(st store.Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: st, logger: logger}
}

// translate maps a store error to a typed failure about the subject.
func translate(err error, subject apperr.Subject) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(subject, fmt.Sprintf("%s does not exist", subject))
	}
	return apperr.Internal(err)
}

// RequireMember resolves the actor's membership or fails NotFound(User).
// Banned members are treated as absent.
func (r *Resolver) RequireMember(ctx context.Context, serverID, userID int64) (*models.Membership, error) {
	m, err := r.store.GetMembership(ctx, serverID, userID)
	if err != nil {
		return nil, translate(err, apperr.SubjectUser)
	}
	if m.Banned {
		return nil, apperr.NotFound(apperr.SubjectUser, "user is not a member of this server")
	}
	return m, nil
}

// RequireCreator resolves membership and fails Forbidden(User) unless the
// actor is the server owner.
func (r *Resolver) RequireCreator(ctx context.Context, serverID, userID int64) (*models.Membership, error) {
	m, err := r.RequireMember(ctx, serverID, userID)
	if err != nil {
		return nil, err
	}
	srv, err := r.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, translate(err, apperr.SubjectServer)
	}
	if srv.OwnerID != userID {
		return nil, apperr.Forbidden(apperr.SubjectUser, "only the server creator may do this")
	}
	return m, nil
}

// RequireNotCreator resolves membership and fails Forbidden(User) when the
// actor is the server owner (used where the creator must be excluded, e.g.
// leaving a server they own).
func (r *Resolver) RequireNotCreator(ctx context.Context, serverID, userID int64) (*models.Membership, error) {
	m, err := r.RequireMember(ctx, serverID, userID)
	if err != nil {
		return nil, err
	}
	srv, err := r.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, translate(err, apperr.SubjectServer)
	}
	if srv.OwnerID == userID {
		return nil, apperr.Forbidden(apperr.SubjectUser, "the server creator may not do this")
	}
	return m, nil
}

// rolesFor loads the actor's effective roles after membership succeeds.
func (r *Resolver) rolesFor(ctx context.Context, serverID, userID int64) ([]models.Role, error) {
	roles, err := r.store.RolesForUser(ctx, serverID, userID)
	if err != nil {
		return nil, translate(err, apperr.SubjectUser)
	}
	return roles, nil
}

// RequireCanChangeRoles fails Forbidden(User) unless the actor holds the
// change-roles capability.
func (r *Resolver) RequireCanChangeRoles(ctx context.Context, serverID, userID int64) error {
	return r.requireCapability(ctx, serverID, userID, permissions.CanChangeRoles, "change roles")
}

// RequireCanManageChannels fails Forbidden(User) unless the actor holds
// the manage-channels capability.
func (r *Resolver) RequireCanManageChannels(ctx context.Context, serverID, userID int64) error {
	return r.requireCapability(ctx, serverID, userID, permissions.CanManageChannels, "manage channels")
}

// RequireCanMuteOthers fails Forbidden(User) unless the actor holds the
// mute-others capability.
func (r *Resolver) RequireCanMuteOthers(ctx context.Context, serverID, userID int64) error {
	return r.requireCapability(ctx, serverID, userID, permissions.CanMuteOthers, "mute others")
}

// RequireCanCreateRoles fails Forbidden(User) unless the actor holds the
// create-roles capability.
func (r *Resolver) RequireCanCreateRoles(ctx context.Context, serverID, userID int64) error {
	return r.requireCapability(ctx, serverID, userID, permissions.CanCreateRoles, "create roles")
}

func (r *Resolver) requireCapability(ctx context.Context, serverID, userID int64, check func([]models.Role) bool, name string) error {
	if _, err := r.RequireMember(ctx, serverID, userID); err != nil {
		return err
	}
	roles, err := r.rolesFor(ctx, serverID, userID)
	if err != nil {
		return err
	}
	if !check(roles) {
		return apperr.Forbidden(apperr.SubjectUser, "missing capability: "+name)
	}
	return nil
}

// ResolveViewableChannel resolves channel, server and membership, then
// checks the view grant. A channel the actor cannot view is reported as
// NotFound(Channel) so its existence is not revealed.
func (r *Resolver) ResolveViewableChannel(ctx context.Context, channelID, userID int64) (*models.Channel, []models.Role, error) {
	ch, err := r.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, nil, translate(err, apperr.SubjectChannel)
	}
	if _, err := r.store.GetServer(ctx, ch.ServerID); err != nil {
		return nil, nil, translate(err, apperr.SubjectServer)
	}
	if _, err := r.RequireMember(ctx, ch.ServerID, userID); err != nil {
		return nil, nil, err
	}
	roles, err := r.rolesFor(ctx, ch.ServerID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !permissions.CanView(roles, ch) {
		return nil, nil, apperr.NotFound(apperr.SubjectChannel, "channel does not exist")
	}
	return ch, roles, nil
}

// RequireCanWriteInChannel resolves the channel as viewable and then
// checks the write grant, failing Forbidden(User) when the actor can see
// but not post.
func (r *Resolver) RequireCanWriteInChannel(ctx context.Context, channelID, userID int64) (*models.Channel, error) {
	ch, roles, err := r.ResolveViewableChannel(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if !permissions.CanWrite(roles, ch) {
		return nil, apperr.Forbidden(apperr.SubjectUser, "cannot write in this channel")
	}
	return ch, nil
}

// RequireCanJoinChannel resolves the channel as viewable and then checks
// the join grant. The actor's roles are returned for the capacity-bypass
// check in the presence registry.
func (r *Resolver) RequireCanJoinChannel(ctx context.Context, channelID, userID int64) (*models.Channel, []models.Role, error) {
	ch, roles, err := r.ResolveViewableChannel(ctx, channelID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !ch.IsVoice() {
		return nil, nil, apperr.InvalidArgument(apperr.SubjectChannel, "not a voice channel")
	}
	if !permissions.CanJoin(roles, ch) {
		return nil, nil, apperr.Forbidden(apperr.SubjectUser, "cannot join this channel")
	}
	return ch, roles, nil
}
