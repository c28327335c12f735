package hub

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/permissions"
)

// memberRoles resolves every membership of a server together with the
// role rows it references, in two reads instead of one per member.
func (h *Hub) memberRoles(ctx context.Context, serverID int64) ([]models.Membership, map[int64]models.Role, error) {
	members, err := h.store.ListMemberships(ctx, serverID)
	if err != nil {
		return nil, nil, fmt.Errorf("list memberships: %w", err)
	}
	roles, err := h.store.ListRoles(ctx, serverID)
	if err != nil {
		return nil, nil, fmt.Errorf("list roles: %w", err)
	}
	byID := make(map[int64]models.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	return members, byID, nil
}

func heldRoles(m *models.Membership, byID map[int64]models.Role) []models.Role {
	out := make([]models.Role, 0, len(m.RoleIDs))
	for _, id := range m.RoleIDs {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// ComputeFullAudience returns the user ids of every member of the
// channel's server whose effective role set can view the channel. This
// set governs NewMessage/UpdatedMessage/DeletedMessage delivery.
func (h *Hub) ComputeFullAudience(ctx context.Context, ch *models.Channel) (map[int64]struct{}, error) {
	members, byID, err := h.memberRoles(ctx, ch.ServerID)
	if err != nil {
		return nil, err
	}

	audience := make(map[int64]struct{})
	for i := range members {
		m := &members[i]
		if m.Banned {
			continue
		}
		if permissions.CanView(heldRoles(m, byID), ch) {
			audience[m.UserID] = struct{}{}
		}
	}
	return audience, nil
}

// ComputeAlertAudience returns the subset of the full audience that was
// specifically mentioned: roles intersecting roleTags, account tags in
// userTags, plus the reply target's author, minus the message's author.
// On announcement channels every viewer holding the channel's Notified
// grant is alerted as well. It governs the secondary MessageAlert event,
// sent in addition to the full-audience event.
func (h *Hub) ComputeAlertAudience(ctx context.Context, ch *models.Channel, roleTags []int64, userTags []string, replyAuthor *int64, authorID int64) (map[int64]struct{}, error) {
	members, byID, err := h.memberRoles(ctx, ch.ServerID)
	if err != nil {
		return nil, err
	}

	taggedRoles := models.NewRoleSet(roleTags...)
	taggedUsers := make(map[string]struct{}, len(userTags))
	for _, tag := range userTags {
		taggedUsers[tag] = struct{}{}
	}

	alert := make(map[int64]struct{})
	for i := range members {
		m := &members[i]
		if m.Banned {
			continue
		}
		held := heldRoles(m, byID)
		if !permissions.CanView(held, ch) {
			continue
		}
		mentioned := false
		for _, r := range held {
			if taggedRoles.Contains(r.ID) {
				mentioned = true
				break
			}
		}
		if !mentioned {
			_, mentioned = taggedUsers[m.Tag]
		}
		if !mentioned && replyAuthor != nil && m.UserID == *replyAuthor {
			mentioned = true
		}
		if !mentioned && ch.Kind == models.ChannelKindAnnouncement {
			mentioned = permissions.IsNotified(held, ch)
		}
		if mentioned {
			alert[m.UserID] = struct{}{}
		}
	}
	delete(alert, authorID)
	return alert, nil
}

// NotifyNewMessage enqueues the fan-out for a freshly persisted message:
// the full-audience NewMessage always, and MessageAlert only when the
// alert subset is non-empty.
func (h *Hub) NotifyNewMessage(ch *models.Channel, msg *models.Message, replyAuthor *int64) {
	chCopy := *ch
	msgCopy := *msg
	h.enqueue(func(ctx context.Context) {
		full, err := h.ComputeFullAudience(ctx, &chCopy)
		if err != nil {
			h.logger.Error("failed to compute audience", zap.Int64("channel_id", chCopy.ID), zap.Error(err))
			return
		}
		event := models.NewMessageEvent(chCopy.ServerID, &msgCopy)
		h.Broadcast(ctx, models.EventNewMessage, event, full)

		var authorID int64
		if msgCopy.AuthorID != nil {
			authorID = *msgCopy.AuthorID
		}
		alert, err := h.ComputeAlertAudience(ctx, &chCopy, msgCopy.RoleTags, msgCopy.UserTags, replyAuthor, authorID)
		if err != nil {
			h.logger.Error("failed to compute alert audience", zap.Int64("channel_id", chCopy.ID), zap.Error(err))
			return
		}
		if len(alert) > 0 {
			h.Broadcast(ctx, models.EventMessageAlert, event, alert)
		}
	})
}

// NotifyMessageUpdated enqueues the full-audience UpdatedMessage event.
func (h *Hub) NotifyMessageUpdated(ch *models.Channel, msg *models.Message) {
	chCopy := *ch
	msgCopy := *msg
	h.enqueue(func(ctx context.Context) {
		full, err := h.ComputeFullAudience(ctx, &chCopy)
		if err != nil {
			h.logger.Error("failed to compute audience", zap.Int64("channel_id", chCopy.ID), zap.Error(err))
			return
		}
		h.Broadcast(ctx, models.EventUpdatedMessage, models.NewMessageEvent(chCopy.ServerID, &msgCopy), full)
	})
}

// NotifyMessageDeleted enqueues the tombstone event: id and channel only,
// never the deleted body.
func (h *Hub) NotifyMessageDeleted(ch *models.Channel, messageID int64) {
	chCopy := *ch
	h.enqueue(func(ctx context.Context) {
		full, err := h.ComputeFullAudience(ctx, &chCopy)
		if err != nil {
			h.logger.Error("failed to compute audience", zap.Int64("channel_id", chCopy.ID), zap.Error(err))
			return
		}
		h.Broadcast(ctx, models.EventDeletedMessage, models.DeletedMessageEvent{
			ChannelID: chCopy.ID,
			MessageID: messageID,
		}, full)
	})
}

// NotifyPresence enqueues a presence delta for the voice channel's current
// roster, so co-present clients update without polling. The moved user is
// included; users who just left still receive the delta through their own
// row's event.
func (h *Hub) NotifyPresence(p *models.Presence) {
	row := *p
	h.enqueue(func(ctx context.Context) {
		roster, err := h.store.Roster(ctx, row.ChannelID)
		if err != nil {
			h.logger.Error("failed to load roster", zap.Int64("channel_id", row.ChannelID), zap.Error(err))
			return
		}
		targets := make(map[int64]struct{}, len(roster)+1)
		for _, r := range roster {
			targets[r.UserID] = struct{}{}
		}
		targets[row.UserID] = struct{}{}
		h.Broadcast(ctx, models.EventPresenceDelta, models.NewPresenceDeltaEvent(&row), targets)
	})
}
