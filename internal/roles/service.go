// Package roles implements role lifecycle and assignment. The Creator
// and Admin kinds are structural: they cannot be created, deleted or
// handed out through the normal assignment path.
package roles

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/apperr"
	"github.com/parlorchat/parlor-server/internal/authz"
	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

// Service exposes role management operations.
type Service struct {
	store  store.Store
	authz  *authz.Resolver
	logger *zap.Logger
}

// NewService wires role management.
func NewService(st store.Store, az *authz.Resolver, logger *zap.Logger) *Service {
	return &Service{store: st, authz: az, logger: logger}
}

// Create makes a custom role. Requires the create-roles capability.
func (s *Service) Create(ctx context.Context, serverID, actorID int64, name, color string, caps models.Capabilities) (*models.Role, error) {
	if err := s.authz.RequireCanCreateRoles(ctx, serverID, actorID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apperr.InvalidArgument(apperr.SubjectRole, "role name must not be empty")
	}

	role := &models.Role{
		ServerID:     serverID,
		Name:         name,
		Color:        color,
		Kind:         models.RoleKindCustom,
		Capabilities: caps,
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, apperr.Internal(err)
	}

	s.logger.Info("role created",
		zap.Int64("server_id", serverID),
		zap.Int64("role_id", role.ID),
		zap.String("name", name),
	)
	return role, nil
}

// Delete removes a custom role, cascading removal from channel grant sets
// and member role sets. Structural kinds refuse.
func (s *Service) Delete(ctx context.Context, roleID, actorID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(apperr.SubjectRole, "role does not exist")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.authz.RequireCanChangeRoles(ctx, role.ServerID, actorID); err != nil {
		return err
	}
	if role.IsStructural() {
		return apperr.Forbidden(apperr.SubjectRole, "built-in roles cannot be deleted")
	}

	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return apperr.Internal(err)
	}
	s.logger.Info("role deleted", zap.Int64("role_id", roleID))
	return nil
}

// Assign adds a role to a member. The Creator role never travels through
// this path; ownership transfer is its only move.
func (s *Service) Assign(ctx context.Context, serverID, actorID, targetID, roleID int64) error {
	role, err := s.requireAssignable(ctx, serverID, actorID, targetID, roleID)
	if err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, serverID, targetID, role.ID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Unassign removes a role from a member.
func (s *Service) Unassign(ctx context.Context, serverID, actorID, targetID, roleID int64) error {
	if _, err := s.requireAssignable(ctx, serverID, actorID, targetID, roleID); err != nil {
		return err
	}
	if err := s.store.UnassignRole(ctx, serverID, targetID, roleID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// TransferOwnership atomically moves the Creator role and the owner
// pointer to another member. Only the current creator may do this.
func (s *Service) TransferOwnership(ctx context.Context, serverID, actorID, newOwnerID int64) error {
	if _, err := s.authz.RequireCreator(ctx, serverID, actorID); err != nil {
		return err
	}
	if actorID == newOwnerID {
		return apperr.InvalidArgument(apperr.SubjectUser, "cannot transfer ownership to yourself")
	}
	if _, err := s.authz.RequireMember(ctx, serverID, newOwnerID); err != nil {
		return err
	}

	if err := s.store.TransferOwnership(ctx, serverID, actorID, newOwnerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(apperr.SubjectUser, "member does not exist")
		}
		return apperr.Internal(err)
	}
	s.logger.Info("ownership transferred",
		zap.Int64("server_id", serverID),
		zap.Int64("from", actorID),
		zap.Int64("to", newOwnerID),
	)
	return nil
}

// List returns all roles of a server for members.
func (s *Service) List(ctx context.Context, serverID, actorID int64) ([]models.Role, error) {
	if _, err := s.authz.RequireMember(ctx, serverID, actorID); err != nil {
		return nil, err
	}
	roles, err := s.store.ListRoles(ctx, serverID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return roles, nil
}

func (s *Service) requireAssignable(ctx context.Context, serverID, actorID, targetID, roleID int64) (*models.Role, error) {
	if err := s.authz.RequireCanChangeRoles(ctx, serverID, actorID); err != nil {
		return nil, err
	}
	if _, err := s.authz.RequireMember(ctx, serverID, targetID); err != nil {
		return nil, err
	}
	role, err := s.store.GetRole(ctx, roleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(apperr.SubjectRole, "role does not exist")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if role.ServerID != serverID {
		return nil, apperr.NotFound(apperr.SubjectRole, "role does not exist")
	}
	if role.Kind == models.RoleKindCreator {
		return nil, apperr.Forbidden(apperr.SubjectRole, "the creator role moves only through ownership transfer")
	}
	return role, nil
}
