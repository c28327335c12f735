// Package messages implements the durable message operations: validate,
// persist, then hand the event to the hub. Persistence and delivery are
// sequential, never concurrent, so a crash between the two can only drop
// a push, never the durable record.
package messages

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/apperr"
	"github.com/parlorchat/parlor-server/internal/authz"
	"github.com/parlorchat/parlor-server/internal/hub"
	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

// Service exposes the message store operations.
type Service struct {
	store  store.Store
	authz  *authz.Resolver
	hub    *hub.Hub
	logger *zap.Logger
}

// NewService wires the message operations.
func NewService(st store.Store, az *authz.Resolver, h *hub.Hub, logger *zap.Logger) *Service {
	return &Service{store: st, authz: az, hub: h, logger: logger}
}

// CreateInput carries the payload for Create.
type CreateInput struct {
	Text     string
	RoleTags []int64
	UserTags []string
	ReplyTo  *int64
	ThreadID *int64
}

// Create validates and persists a new message, then queues the fan-out.
//
// User tags must name existing member tags of the channel's server
// (InvalidArgument(Tags) otherwise); unknown role tags are dropped
// silently. A reply target must already exist in this exact channel.
func (s *Service) Create(ctx context.Context, channelID, authorID int64, in CreateInput) (*models.MessageWithReply, error) {
	ch, err := s.authz.RequireCanWriteInChannel(ctx, channelID, authorID)
	if err != nil {
		return nil, err
	}
	if !ch.IsTextCapable() {
		return nil, apperr.NotFound(apperr.SubjectChannel, "channel does not accept messages")
	}

	if len(in.UserTags) > 0 {
		if err := s.validateUserTags(ctx, ch.ServerID, in.UserTags); err != nil {
			return nil, err
		}
	}

	roleTags, err := s.filterRoleTags(ctx, ch.ServerID, in.RoleTags)
	if err != nil {
		return nil, err
	}

	var reply *models.Message
	if in.ReplyTo != nil {
		reply, err = s.store.GetMessage(ctx, channelID, *in.ReplyTo)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(apperr.SubjectMessage, "reply target does not exist in this channel")
		}
		if err != nil {
			return nil, apperr.Internal(err)
		}
	}

	msg := &models.Message{
		ChannelID: channelID,
		AuthorID:  &authorID,
		Text:      in.Text,
		RoleTags:  roleTags,
		UserTags:  in.UserTags,
		ReplyTo:   in.ReplyTo,
		ThreadID:  in.ThreadID,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		switch {
		case errors.Is(err, store.ErrReplyNotFound):
			// The target was deleted between the read above and the insert.
			return nil, apperr.NotFound(apperr.SubjectMessage, "reply target does not exist in this channel")
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.NotFound(apperr.SubjectChannel, "channel no longer exists")
		default:
			return nil, apperr.Internal(err)
		}
	}

	s.logger.Debug("message persisted",
		zap.Int64("channel_id", channelID),
		zap.Int64("message_id", msg.ID),
		zap.Int64("author_id", authorID),
	)

	var replyAuthor *int64
	if reply != nil {
		replyAuthor = reply.AuthorID
	}
	s.hub.NotifyNewMessage(ch, msg, replyAuthor)

	return &models.MessageWithReply{Message: *msg, Reply: reply}, nil
}

// Update replaces the body of the actor's own message and stamps
// UpdatedAt. Editing is author-exclusive: any other actor, including the
// server creator, fails Forbidden(User).
func (s *Service) Update(ctx context.Context, channelID, messageID, actorID int64, text string) (*models.Message, error) {
	ch, _, err := s.authz.ResolveViewableChannel(ctx, channelID, actorID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetMessage(ctx, channelID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(apperr.SubjectMessage, "message does not exist")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if existing.AuthorID == nil || *existing.AuthorID != actorID {
		return nil, apperr.Forbidden(apperr.SubjectUser, "only the author may edit a message")
	}

	updated, err := s.store.UpdateMessageText(ctx, channelID, messageID, text)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.hub.NotifyMessageUpdated(ch, updated)
	return updated, nil
}

// Delete removes the actor's own message and queues a tombstone event
// carrying no body. Author-exclusive like Update.
func (s *Service) Delete(ctx context.Context, channelID, messageID, actorID int64) error {
	ch, _, err := s.authz.ResolveViewableChannel(ctx, channelID, actorID)
	if err != nil {
		return err
	}

	existing, err := s.store.GetMessage(ctx, channelID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(apperr.SubjectMessage, "message does not exist")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if existing.AuthorID == nil || *existing.AuthorID != actorID {
		return apperr.Forbidden(apperr.SubjectUser, "only the author may delete a message")
	}

	if err := s.store.DeleteMessage(ctx, channelID, messageID); err != nil {
		return apperr.Internal(err)
	}

	s.hub.NotifyMessageDeleted(ch, messageID)
	return nil
}

// List pages message history, newest first, for actors who can view the
// channel. Each message carries a one-level shallow reply copy.
func (s *Service) List(ctx context.Context, channelID, actorID, beforeID int64, limit int) ([]models.MessageWithReply, error) {
	if _, _, err := s.authz.ResolveViewableChannel(ctx, channelID, actorID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	page, err := s.store.ListMessages(ctx, channelID, beforeID, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	out := make([]models.MessageWithReply, 0, len(page))
	for i := range page {
		item := models.MessageWithReply{Message: page[i]}
		if page[i].ReplyTo != nil {
			if reply, err := s.store.GetMessage(ctx, channelID, *page[i].ReplyTo); err == nil {
				item.Reply = reply
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// validateUserTags requires every tag to belong to a member of the server.
func (s *Service) validateUserTags(ctx context.Context, serverID int64, tags []string) error {
	members, err := s.store.ListMemberships(ctx, serverID)
	if err != nil {
		return apperr.Internal(err)
	}
	known := make(map[string]struct{}, len(members))
	for _, m := range members {
		known[m.Tag] = struct{}{}
	}
	for _, tag := range tags {
		if _, ok := known[tag]; !ok {
			return apperr.InvalidArgument(apperr.SubjectTags, "unknown user tag: "+tag)
		}
	}
	return nil
}

// filterRoleTags drops role ids that do not exist on the server. The
// filtering is silent and idempotent, not an error.
func (s *Service) filterRoleTags(ctx context.Context, serverID int64, tags []int64) ([]int64, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	roles, err := s.store.ListRoles(ctx, serverID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	known := models.NewRoleSet()
	for _, r := range roles {
		known[r.ID] = struct{}{}
	}
	out := make([]int64, 0, len(tags))
	for _, id := range tags {
		if known.Contains(id) {
			out = append(out, id)
		}
	}
	return out, nil
}
