// Package memory implements the store contract with mutex-guarded maps.
// It backs unit tests and the "memory" storage driver; a single mutex
// makes the message-id allocation and the presence move trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

// Store is an in-memory store.Store implementation.
type Store struct {
	mu sync.Mutex

	nextID int64 // servers, roles, channels share one sequence

	servers     map[int64]*models.Server
	memberships map[int64]map[int64]*models.Membership // serverID -> userID
	roles       map[int64]*models.Role
	channels    map[int64]*models.Channel
	messages    map[int64]map[int64]*models.Message // channelID -> messageID
	lastMsgID   map[int64]int64
	presence    map[int64]map[int64]*models.Presence // userID -> channelID
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		servers:     make(map[int64]*models.Server),
		memberships: make(map[int64]map[int64]*models.Membership),
		roles:       make(map[int64]*models.Role),
		channels:    make(map[int64]*models.Channel),
		messages:    make(map[int64]map[int64]*models.Message),
		lastMsgID:   make(map[int64]int64),
		presence:    make(map[int64]map[int64]*models.Presence),
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// CreateServer stores a server, assigning its id when zero.
func (s *Store) CreateServer(_ context.Context, srv *models.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srv.ID == 0 {
		srv.ID = s.allocID()
	}
	cp := *srv
	s.servers[srv.ID] = &cp
	return nil
}

// GetServer returns the server or store.ErrNotFound.
func (s *Store) GetServer(_ context.Context, id int64) (*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *srv
	return &cp, nil
}

// CreateMembership stores a membership row.
func (s *Store) CreateMembership(_ context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[m.ServerID]; !ok {
		return store.ErrNotFound
	}
	if m.Since.IsZero() {
		m.Since = time.Now().UTC()
	}
	byUser, ok := s.memberships[m.ServerID]
	if !ok {
		byUser = make(map[int64]*models.Membership)
		s.memberships[m.ServerID] = byUser
	}
	byUser[m.UserID] = copyMembership(m)
	return nil
}

// GetMembership returns one membership or store.ErrNotFound.
func (s *Store) GetMembership(_ context.Context, serverID, userID int64) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[serverID][userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyMembership(m), nil
}

// ListMemberships returns all memberships of a server.
func (s *Store) ListMemberships(_ context.Context, serverID int64) ([]models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Membership, 0, len(s.memberships[serverID]))
	for _, m := range s.memberships[serverID] {
		out = append(out, *copyMembership(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// CreateRole stores a role, assigning its id when zero.
func (s *Store) CreateRole(_ context.Context, r *models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[r.ServerID]; !ok {
		return store.ErrNotFound
	}
	if r.ID == 0 {
		r.ID = s.allocID()
	}
	cp := *r
	s.roles[r.ID] = &cp
	return nil
}

// GetRole returns the role or store.ErrNotFound.
func (s *Store) GetRole(_ context.Context, id int64) (*models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRoles returns all roles of a server.
func (s *Store) ListRoles(_ context.Context, serverID int64) ([]models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listRolesLocked(serverID), nil
}

func (s *Store) listRolesLocked(serverID int64) []models.Role {
	var out []models.Role
	for _, r := range s.roles {
		if r.ServerID == serverID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RolesForUser returns the roles held by one member.
func (s *Store) RolesForUser(_ context.Context, serverID, userID int64) ([]models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[serverID][userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]models.Role, 0, len(m.RoleIDs))
	for _, id := range m.RoleIDs {
		if r, ok := s.roles[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

// DeleteRole removes the role, cascading removal from channel grant sets
// and member role sets.
func (s *Store) DeleteRole(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.roles, id)

	for _, ch := range s.channels {
		if ch.ServerID != r.ServerID {
			continue
		}
		delete(ch.CanView, id)
		delete(ch.CanWrite, id)
		delete(ch.CanJoin, id)
		delete(ch.Notified, id)
	}
	for _, m := range s.memberships[r.ServerID] {
		m.RoleIDs = removeID(m.RoleIDs, id)
	}
	return nil
}

// AssignRole adds a role to a member's role set; idempotent.
func (s *Store) AssignRole(_ context.Context, serverID, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[serverID][userID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return store.ErrNotFound
	}
	for _, id := range m.RoleIDs {
		if id == roleID {
			return nil
		}
	}
	m.RoleIDs = append(m.RoleIDs, roleID)
	return nil
}

// UnassignRole removes a role from a member's role set.
func (s *Store) UnassignRole(_ context.Context, serverID, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[serverID][userID]
	if !ok {
		return store.ErrNotFound
	}
	m.RoleIDs = removeID(m.RoleIDs, roleID)
	return nil
}

// TransferOwnership swaps the Creator role between two members and updates
// the server owner pointer, all under one lock hold.
func (s *Store) TransferOwnership(_ context.Context, serverID, fromUser, toUser int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[serverID]
	if !ok {
		return store.ErrNotFound
	}
	from, ok := s.memberships[serverID][fromUser]
	if !ok {
		return store.ErrNotFound
	}
	to, ok := s.memberships[serverID][toUser]
	if !ok {
		return store.ErrNotFound
	}

	var creatorID int64 = -1
	for _, r := range s.roles {
		if r.ServerID == serverID && r.Kind == models.RoleKindCreator {
			creatorID = r.ID
			break
		}
	}
	if creatorID < 0 {
		return store.ErrNotFound
	}

	from.RoleIDs = removeID(from.RoleIDs, creatorID)
	to.RoleIDs = append(removeID(to.RoleIDs, creatorID), creatorID)
	srv.OwnerID = toUser
	return nil
}

// CreateChannel stores a channel, assigning its id when zero.
func (s *Store) CreateChannel(_ context.Context, c *models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[c.ServerID]; !ok {
		return store.ErrNotFound
	}
	if c.ID == 0 {
		c.ID = s.allocID()
	}
	s.channels[c.ID] = copyChannel(c)
	return nil
}

// GetChannel returns the channel, hiding retired ones.
func (s *Store) GetChannel(_ context.Context, id int64) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok || c.Retired {
		return nil, store.ErrNotFound
	}
	return copyChannel(c), nil
}

// GetChannelAny returns the channel regardless of its retired flag.
func (s *Store) GetChannelAny(_ context.Context, id int64) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyChannel(c), nil
}

// ListChannels returns all non-retired channels of a server.
func (s *Store) ListChannels(_ context.Context, serverID int64) ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Channel
	for _, c := range s.channels {
		if c.ServerID == serverID && !c.Retired {
			out = append(out, *copyChannel(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetChannelRetired flips the soft-delete flag.
func (s *Store) SetChannelRetired(_ context.Context, id int64, retired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Retired = retired
	return nil
}

// UpdateChannelGrants replaces the four grant sets.
func (s *Store) UpdateChannelGrants(_ context.Context, id int64, grants store.GrantSets) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return store.ErrNotFound
	}
	c.CanView = grants.CanView.Clone()
	c.CanWrite = grants.CanWrite.Clone()
	c.CanJoin = grants.CanJoin.Clone()
	c.Notified = grants.Notified.Clone()
	return nil
}

// InsertMessage assigns the next per-channel id and stores the message.
func (s *Store) InsertMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[m.ChannelID]
	if !ok || ch.Retired {
		return store.ErrNotFound
	}
	if m.ReplyTo != nil {
		if _, ok := s.messages[m.ChannelID][*m.ReplyTo]; !ok {
			return store.ErrReplyNotFound
		}
	}
	s.lastMsgID[m.ChannelID]++
	m.ID = s.lastMsgID[m.ChannelID]
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	byID, ok := s.messages[m.ChannelID]
	if !ok {
		byID = make(map[int64]*models.Message)
		s.messages[m.ChannelID] = byID
	}
	byID[m.ID] = copyMessage(m)
	return nil
}

// GetMessage returns one message or store.ErrNotFound.
func (s *Store) GetMessage(_ context.Context, channelID, messageID int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[channelID][messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyMessage(m), nil
}

// UpdateMessageText replaces the body and stamps UpdatedAt.
func (s *Store) UpdateMessageText(_ context.Context, channelID, messageID int64, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[channelID][messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()
	m.Text = text
	m.UpdatedAt = &now
	return copyMessage(m), nil
}

// DeleteMessage removes the row.
func (s *Store) DeleteMessage(_ context.Context, channelID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[channelID][messageID]; !ok {
		return store.ErrNotFound
	}
	delete(s.messages[channelID], messageID)
	return nil
}

// ListMessages pages newest-first below beforeID.
func (s *Store) ListMessages(_ context.Context, channelID, beforeID int64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Message
	for _, m := range s.messages[channelID] {
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, *copyMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetPresence returns the user's current inside row, if any.
func (s *Store) GetPresence(_ context.Context, userID int64) (*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.presence[userID] {
		if p.Inside {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// MovePresence performs the atomic remove-then-insert: at most one row per
// user has Inside set when the lock is released. Mute flags carry over;
// Streaming resets.
func (s *Store) MovePresence(_ context.Context, userID, channelID int64, capacity int) (*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if capacity > 0 {
		var count int
		for _, rows := range s.presence {
			if p, ok := rows[channelID]; ok && p.Inside && p.UserID != userID {
				count++
			}
		}
		if count >= capacity {
			return nil, store.ErrChannelFull
		}
	}

	rows, ok := s.presence[userID]
	if !ok {
		rows = make(map[int64]*models.Presence)
		s.presence[userID] = rows
	}

	// Mute is a per-user preference and follows the user to the new
	// channel; streaming is transient and resets on every move.
	var mutedSelf, mutedByOther bool
	for _, p := range rows {
		if p.Inside {
			mutedSelf = p.MutedSelf
			mutedByOther = p.MutedByOther
			if p.ChannelID != channelID {
				p.Inside = false
				p.Streaming = false
			}
		}
	}

	p, ok := rows[channelID]
	if !ok {
		p = &models.Presence{UserID: userID, ChannelID: channelID}
		rows[channelID] = p
	}
	p.Inside = true
	p.Streaming = false
	p.MutedSelf = p.MutedSelf || mutedSelf
	p.MutedByOther = p.MutedByOther || mutedByOther
	cp := *p
	return &cp, nil
}

// ClearPresence clears the inside flag, dropping rows that become fully
// default. Returns the cleared row so callers can emit the delta.
func (s *Store) ClearPresence(_ context.Context, userID int64) (*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for chID, p := range s.presence[userID] {
		if !p.Inside {
			continue
		}
		p.Inside = false
		p.Streaming = false
		cp := *p
		if p.IsDefault() {
			delete(s.presence[userID], chID)
		}
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

// UpdatePresenceFlags applies a partial flag update.
func (s *Store) UpdatePresenceFlags(_ context.Context, userID, channelID int64, upd store.PresenceUpdate) (*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.presence[userID][channelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.MutedSelf != nil {
		p.MutedSelf = *upd.MutedSelf
	}
	if upd.MutedByOther != nil {
		p.MutedByOther = *upd.MutedByOther
	}
	if upd.Streaming != nil {
		p.Streaming = *upd.Streaming
	}
	cp := *p
	return &cp, nil
}

// Roster returns all inside rows for a voice channel.
func (s *Store) Roster(_ context.Context, channelID int64) ([]models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Presence
	for _, rows := range s.presence {
		if p, ok := rows[channelID]; ok && p.Inside {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func copyMembership(m *models.Membership) *models.Membership {
	cp := *m
	cp.RoleIDs = append([]int64(nil), m.RoleIDs...)
	return &cp
}

func copyChannel(c *models.Channel) *models.Channel {
	cp := *c
	cp.CanView = c.CanView.Clone()
	cp.CanWrite = c.CanWrite.Clone()
	cp.CanJoin = c.CanJoin.Clone()
	cp.Notified = c.Notified.Clone()
	if c.ParentID != nil {
		v := *c.ParentID
		cp.ParentID = &v
	}
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	cp.RoleTags = append([]int64(nil), m.RoleTags...)
	cp.UserTags = append([]string(nil), m.UserTags...)
	if m.ReplyTo != nil {
		v := *m.ReplyTo
		cp.ReplyTo = &v
	}
	if m.ThreadID != nil {
		v := *m.ThreadID
		cp.ThreadID = &v
	}
	if m.UpdatedAt != nil {
		v := *m.UpdatedAt
		cp.UpdatedAt = &v
	}
	return &cp
}
