// Package channels implements channel lifecycle: creation, grant edits
// and the soft retire/restore pair. Retired channels stay recoverable and
// are invisible to normal resolution.
package channels

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/apperr"
	"github.com/parlorchat/parlor-server/internal/authz"
	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/permissions"
	"github.com/parlorchat/parlor-server/internal/store"
)

// Service exposes channel management operations.
type Service struct {
	store  store.Store
	authz  *authz.Resolver
	logger *zap.Logger
}

// NewService wires channel management.
func NewService(st store.Store, az *authz.Resolver, logger *zap.Logger) *Service {
	return &Service{store: st, authz: az, logger: logger}
}

// CreateInput carries the payload for Create.
type CreateInput struct {
	Name     string
	Kind     models.ChannelKind
	ParentID *int64
	Capacity int
}

// Create makes a channel with grants defaulting to every current server
// role. A PairVoice thread must hang off a text channel of the same
// server; capacity only applies to voice kinds.
func (s *Service) Create(ctx context.Context, serverID, actorID int64, in CreateInput) (*models.Channel, error) {
	if err := s.authz.RequireCanManageChannels(ctx, serverID, actorID); err != nil {
		return nil, err
	}

	if in.Kind == models.ChannelKindPairVoice {
		if in.ParentID == nil {
			return nil, apperr.InvalidArgument(apperr.SubjectChannel, "a nested channel requires a parent")
		}
		parent, err := s.store.GetChannel(ctx, *in.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(apperr.SubjectChannel, "parent channel does not exist")
		}
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if parent.ServerID != serverID || parent.Kind != models.ChannelKindText {
			return nil, apperr.InvalidArgument(apperr.SubjectChannel, "parent must be a text channel of the same server")
		}
	} else if in.ParentID != nil {
		return nil, apperr.InvalidArgument(apperr.SubjectChannel, "only nested channels take a parent")
	}

	capacity := 0
	switch in.Kind {
	case models.ChannelKindVoice, models.ChannelKindPairVoice:
		capacity = in.Capacity
	default:
		if in.Capacity != 0 {
			return nil, apperr.InvalidArgument(apperr.SubjectChannel, "capacity applies to voice channels only")
		}
	}

	roles, err := s.store.ListRoles(ctx, serverID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	all := models.NewRoleSet()
	for _, r := range roles {
		all[r.ID] = struct{}{}
	}

	ch := &models.Channel{
		ServerID: serverID,
		Name:     in.Name,
		Kind:     in.Kind,
		ParentID: in.ParentID,
		Capacity: capacity,
		CanView:  all.Clone(),
		CanWrite: all.Clone(),
		CanJoin:  models.NewRoleSet(),
		Notified: models.NewRoleSet(),
	}
	switch in.Kind {
	case models.ChannelKindVoice, models.ChannelKindPairVoice:
		ch.CanJoin = all.Clone()
	case models.ChannelKindAnnouncement:
		ch.Notified = all.Clone()
	}

	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, apperr.Internal(err)
	}

	s.logger.Info("channel created",
		zap.Int64("server_id", serverID),
		zap.Int64("channel_id", ch.ID),
		zap.String("kind", ch.Kind.String()),
	)
	return ch, nil
}

// UpdateGrants replaces the channel's grant sets. Role ids that do not
// belong to the server are dropped silently.
func (s *Service) UpdateGrants(ctx context.Context, channelID, actorID int64, grants store.GrantSets) (*models.Channel, error) {
	ch, err := s.requireManageable(ctx, channelID, actorID)
	if err != nil {
		return nil, err
	}

	roles, err := s.store.ListRoles(ctx, ch.ServerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	known := models.NewRoleSet()
	for _, r := range roles {
		known[r.ID] = struct{}{}
	}
	filtered := store.GrantSets{
		CanView:  intersect(grants.CanView, known),
		CanWrite: intersect(grants.CanWrite, known),
		CanJoin:  intersect(grants.CanJoin, known),
		Notified: intersect(grants.Notified, known),
	}

	if err := s.store.UpdateChannelGrants(ctx, channelID, filtered); err != nil {
		return nil, apperr.Internal(err)
	}
	return s.store.GetChannel(ctx, channelID)
}

// Retire soft-deletes a channel; it disappears from resolution but stays
// recoverable through Restore.
func (s *Service) Retire(ctx context.Context, channelID, actorID int64) error {
	if _, err := s.requireManageable(ctx, channelID, actorID); err != nil {
		return err
	}
	if err := s.store.SetChannelRetired(ctx, channelID, true); err != nil {
		return apperr.Internal(err)
	}
	s.logger.Info("channel retired", zap.Int64("channel_id", channelID))
	return nil
}

// Restore brings a retired channel back. It resolves through the
// retired-inclusive lookup since the channel is otherwise invisible.
func (s *Service) Restore(ctx context.Context, channelID, actorID int64) (*models.Channel, error) {
	ch, err := s.store.GetChannelAny(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(apperr.SubjectChannel, "channel does not exist")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.authz.RequireCanManageChannels(ctx, ch.ServerID, actorID); err != nil {
		return nil, err
	}
	if !ch.Retired {
		return nil, apperr.Conflict(apperr.SubjectChannel, "channel is not retired")
	}
	if err := s.store.SetChannelRetired(ctx, channelID, false); err != nil {
		return nil, apperr.Internal(err)
	}
	ch.Retired = false
	s.logger.Info("channel restored", zap.Int64("channel_id", channelID))
	return ch, nil
}

// List returns the server's channels the actor can view.
func (s *Service) List(ctx context.Context, serverID, actorID int64) ([]models.Channel, error) {
	if _, err := s.authz.RequireMember(ctx, serverID, actorID); err != nil {
		return nil, err
	}
	roles, err := s.store.RolesForUser(ctx, serverID, actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	all, err := s.store.ListChannels(ctx, serverID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]models.Channel, 0, len(all))
	for i := range all {
		if permissions.CanView(roles, &all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (s *Service) requireManageable(ctx context.Context, channelID, actorID int64) (*models.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(apperr.SubjectChannel, "channel does not exist")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.authz.RequireCanManageChannels(ctx, ch.ServerID, actorID); err != nil {
		return nil, err
	}
	return ch, nil
}

func intersect(set, known models.RoleSet) models.RoleSet {
	out := models.NewRoleSet()
	for id := range set {
		if known.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}
