// Package voice implements the presence registry operations over the
// store's atomic move, which owns the single-location invariant: a user
// is inside at most one voice channel cluster-wide.
package voice

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/apperr"
	"github.com/parlorchat/parlor-server/internal/authz"
	"github.com/parlorchat/parlor-server/internal/hub"
	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/permissions"
	"github.com/parlorchat/parlor-server/internal/store"
)

// Service exposes the voice presence operations.
type Service struct {
	store  store.Store
	authz  *authz.Resolver
	hub    *hub.Hub
	logger *zap.Logger
}

// NewService wires the presence registry.
func NewService(st store.Store, az *authz.Resolver, h *hub.Hub, logger *zap.Logger) *Service {
	return &Service{store: st, authz: az, hub: h, logger: logger}
}

// Join moves the user into the voice channel, atomically evicting any
// prior location. Capacity applies unless the actor's roles carry the
// ignore-capacity capability. Every affected roster gets a delta.
func (s *Service) Join(ctx context.Context, channelID, userID int64) (*models.Presence, error) {
	ch, roles, err := s.authz.RequireCanJoinChannel(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}

	capacity := ch.Capacity
	if permissions.IgnoresCapacity(roles) {
		capacity = 0
	}

	// Remember the prior location so its roster sees the departure. The
	// read races with the move, but a stale delta is droppable.
	prior, priorErr := s.store.GetPresence(ctx, userID)

	p, err := s.store.MovePresence(ctx, userID, channelID, capacity)
	if errors.Is(err, store.ErrChannelFull) {
		return nil, apperr.InvalidArgument(apperr.SubjectChannel, "channel is at capacity")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.logger.Debug("voice join",
		zap.Int64("user_id", userID),
		zap.Int64("channel_id", channelID),
	)

	if priorErr == nil && prior.ChannelID != channelID {
		left := *prior
		left.Inside = false
		left.Streaming = false
		s.hub.NotifyPresence(&left)
	}
	s.hub.NotifyPresence(p)
	return p, nil
}

// Leave clears the user's inside flag wherever they are. Leaving while
// not inside any channel is a Conflict the caller can resolve by
// re-reading state.
func (s *Service) Leave(ctx context.Context, userID int64) error {
	p, err := s.store.ClearPresence(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Conflict(apperr.SubjectUser, "not inside a voice channel")
	}
	if err != nil {
		return apperr.Internal(err)
	}

	s.logger.Debug("voice leave",
		zap.Int64("user_id", userID),
		zap.Int64("channel_id", p.ChannelID),
	)
	s.hub.NotifyPresence(p)
	return nil
}

// SetMuteSelf toggles the user's own mute flag in their current channel.
func (s *Service) SetMuteSelf(ctx context.Context, userID int64, muted bool) (*models.Presence, error) {
	current, err := s.requirePresence(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.UpdatePresenceFlags(ctx, userID, current.ChannelID, store.PresenceUpdate{MutedSelf: &muted})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.hub.NotifyPresence(p)
	return p, nil
}

// MuteOther sets the target's muted-by-other flag. The actor needs the
// mute-others capability on the server owning the target's channel.
func (s *Service) MuteOther(ctx context.Context, actorID, targetID int64, muted bool) (*models.Presence, error) {
	current, err := s.requirePresence(ctx, targetID)
	if err != nil {
		return nil, err
	}
	ch, err := s.store.GetChannel(ctx, current.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		// The target's channel was retired between the two reads.
		return nil, apperr.NotFound(apperr.SubjectChannel, "target's channel no longer exists")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.authz.RequireCanMuteOthers(ctx, ch.ServerID, actorID); err != nil {
		return nil, err
	}

	p, err := s.store.UpdatePresenceFlags(ctx, targetID, current.ChannelID, store.PresenceUpdate{MutedByOther: &muted})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Debug("voice mute by other",
		zap.Int64("actor_id", actorID),
		zap.Int64("target_id", targetID),
		zap.Bool("muted", muted),
	)
	s.hub.NotifyPresence(p)
	return p, nil
}

// SetStream toggles the user's streaming flag in their current channel.
func (s *Service) SetStream(ctx context.Context, userID int64, streaming bool) (*models.Presence, error) {
	current, err := s.requirePresence(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.UpdatePresenceFlags(ctx, userID, current.ChannelID, store.PresenceUpdate{Streaming: &streaming})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.hub.NotifyPresence(p)
	return p, nil
}

// Roster returns the current presence rows of a voice channel for actors
// allowed to join it.
func (s *Service) Roster(ctx context.Context, channelID, actorID int64) ([]models.Presence, error) {
	if _, _, err := s.authz.RequireCanJoinChannel(ctx, channelID, actorID); err != nil {
		return nil, err
	}
	roster, err := s.store.Roster(ctx, channelID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return roster, nil
}

func (s *Service) requirePresence(ctx context.Context, userID int64) (*models.Presence, error) {
	p, err := s.store.GetPresence(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Conflict(apperr.SubjectUser, "not inside a voice channel")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}
