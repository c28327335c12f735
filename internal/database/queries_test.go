package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

// seed creates a server with a creator role, a custom role and two
// members, returning everything a test needs to exercise the queries.
type seed struct {
	db       *DB
	server   *models.Server
	creator  *models.Role
	custom   *models.Role
	ownerID  int64
	memberID int64
}

func newSeed(t *testing.T) *seed {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database tests in short mode")
	}
	ctx := context.Background()

	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	s := &seed{db: db, ownerID: 100, memberID: 200}

	s.server = &models.Server{OwnerID: s.ownerID, Name: "test server"}
	require.NoError(t, db.CreateServer(ctx, s.server))

	s.creator = &models.Role{ServerID: s.server.ID, Name: "creator", Kind: models.RoleKindCreator}
	require.NoError(t, db.CreateRole(ctx, s.creator))

	s.custom = &models.Role{
		ServerID:     s.server.ID,
		Name:         "helper",
		Color:        "#336699",
		Kind:         models.RoleKindCustom,
		Capabilities: models.Capabilities{MuteOthers: true},
	}
	require.NoError(t, db.CreateRole(ctx, s.custom))

	require.NoError(t, db.CreateMembership(ctx, &models.Membership{
		ServerID: s.server.ID, UserID: s.ownerID, DisplayName: "owner", Tag: "owner#1",
		RoleIDs: []int64{s.creator.ID},
	}))
	require.NoError(t, db.CreateMembership(ctx, &models.Membership{
		ServerID: s.server.ID, UserID: s.memberID, DisplayName: "member", Tag: "member#2",
		RoleIDs: []int64{s.custom.ID},
	}))
	return s
}

func (s *seed) addChannel(t *testing.T, kind models.ChannelKind, capacity int) *models.Channel {
	t.Helper()
	ch := &models.Channel{
		ServerID: s.server.ID,
		Name:     "room",
		Kind:     kind,
		Capacity: capacity,
		CanView:  models.NewRoleSet(s.custom.ID),
		CanWrite: models.NewRoleSet(s.custom.ID),
		CanJoin:  models.NewRoleSet(s.custom.ID),
		Notified: models.NewRoleSet(),
	}
	require.NoError(t, s.db.CreateChannel(context.Background(), ch))
	return ch
}

func TestServerAndMembershipQueries(t *testing.T) {
	s := newSeed(t)
	ctx := context.Background()

	srv, err := s.db.GetServer(ctx, s.server.ID)
	require.NoError(t, err)
	assert.Equal(t, "test server", srv.Name)
	assert.Equal(t, s.ownerID, srv.OwnerID)

	_, err = s.db.GetServer(ctx, 99999)
	assert.ErrorIs(t, err, store.ErrNotFound)

	m, err := s.db.GetMembership(ctx, s.server.ID, s.memberID)
	require.NoError(t, err)
	assert.Equal(t, "member#2", m.Tag)
	assert.Equal(t, []int64{s.custom.ID}, m.RoleIDs)
	assert.False(t, m.Since.IsZero())

	all, err := s.db.ListMemberships(ctx, s.server.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, s.ownerID, all[0].UserID)
}

func TestRoleQueries(t *testing.T) {
	s := newSeed(t)
	ctx := context.Background()

	t.Run("get and list", func(t *testing.T) {
		r, err := s.db.GetRole(ctx, s.custom.ID)
		require.NoError(t, err)
		assert.True(t, r.Capabilities.MuteOthers)
		assert.False(t, r.Capabilities.ManageChannels)

		roles, err := s.db.ListRoles(ctx, s.server.ID)
		require.NoError(t, err)
		assert.Len(t, roles, 2)
	})

	t.Run("roles for user", func(t *testing.T) {
		roles, err := s.db.RolesForUser(ctx, s.server.ID, s.memberID)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, s.custom.ID, roles[0].ID)

		_, err = s.db.RolesForUser(ctx, s.server.ID, 99999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("assign is idempotent", func(t *testing.T) {
		require.NoError(t, s.db.AssignRole(ctx, s.server.ID, s.memberID, s.custom.ID))
		require.NoError(t, s.db.AssignRole(ctx, s.server.ID, s.memberID, s.custom.ID))

		roles, err := s.db.RolesForUser(ctx, s.server.ID, s.memberID)
		require.NoError(t, err)
		assert.Len(t, roles, 1)
	})

	t.Run("delete cascades to grants and members", func(t *testing.T) {
		ch := s.addChannel(t, models.ChannelKindText, 0)

		require.NoError(t, s.db.DeleteRole(ctx, s.custom.ID))

		got, err := s.db.GetChannel(ctx, ch.ID)
		require.NoError(t, err)
		assert.Empty(t, got.CanView)
		assert.Empty(t, got.CanWrite)

		m, err := s.db.GetMembership(ctx, s.server.ID, s.memberID)
		require.NoError(t, err)
		assert.Empty(t, m.RoleIDs)

		assert.ErrorIs(t, s.db.DeleteRole(ctx, s.custom.ID), store.ErrNotFound)
	})
}

func TestTransferOwnership(t *testing.T) {
	s := newSeed(t)
	ctx := context.Background()

	require.NoError(t, s.db.TransferOwnership(ctx, s.server.ID, s.ownerID, s.memberID))

	srv, err := s.db.GetServer(ctx, s.server.ID)
	require.NoError(t, err)
	assert.Equal(t, s.memberID, srv.OwnerID)

	prev, err := s.db.GetMembership(ctx, s.server.ID, s.ownerID)
	require.NoError(t, err)
	assert.NotContains(t, prev.RoleIDs, s.creator.ID)

	next, err := s.db.GetMembership(ctx, s.server.ID, s.memberID)
	require.NoError(t, err)
	assert.Contains(t, next.RoleIDs, s.creator.ID)

	err = s.db.TransferOwnership(ctx, s.server.ID, s.memberID, 99999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChannelQueries(t *testing.T) {
	s := newSeed(t)
	ctx := context.Background()

	parent := s.addChannel(t, models.ChannelKindText, 0)
	thread := &models.Channel{
		ServerID: s.server.ID,
		Name:     "pair",
		Kind:     models.ChannelKindPairVoice,
		ParentID: &parent.ID,
		Capacity: 2,
		CanView:  models.NewRoleSet(s.custom.ID),
		CanWrite: models.NewRoleSet(s.custom.ID),
		CanJoin:  models.NewRoleSet(s.custom.ID),
		Notified: models.NewRoleSet(),
	}
	require.NoError(t, s.db.CreateChannel(ctx, thread))

	t.Run("round trip with grants", func(t *testing.T) {
		got, err := s.db.GetChannel(ctx, thread.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ChannelKindPairVoice, got.Kind)
		require.NotNil(t, got.ParentID)
		assert.Equal(t, parent.ID, *got.ParentID)
		assert.Equal(t, 2, got.Capacity)
		assert.True(t, got.CanJoin.Contains(s.custom.ID))
	})

	t.Run("retire hides from GetChannel and ListChannels", func(t *testing.T) {
		require.NoError(t, s.db.SetChannelRetired(ctx, parent.ID, true))

		_, err := s.db.GetChannel(ctx, parent.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.db.GetChannelAny(ctx, parent.ID)
		require.NoError(t, err)
		assert.True(t, got.Retired)

		list, err := s.db.ListChannels(ctx, s.server.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, thread.ID, list[0].ID)

		require.NoError(t, s.db.SetChannelRetired(ctx, parent.ID, false))
	})

	t.Run("update grants replaces sets", func(t *testing.T) {
		err := s.db.UpdateChannelGrants(ctx, thread.ID, store.GrantSets{
			CanView:  models.NewRoleSet(s.creator.ID),
			CanWrite: models.NewRoleSet(),
			CanJoin:  models.NewRoleSet(s.creator.ID),
			Notified: models.NewRoleSet(),
		})
		require.NoError(t, err)

		got, err := s.db.GetChannel(ctx, thread.ID)
		require.NoError(t, err)
		assert.True(t, got.CanView.Contains(s.creator.ID))
		assert.False(t, got.CanView.Contains(s.custom.ID))
		assert.Empty(t, got.CanWrite)
	})
}

func TestMessageQueries(t *testing.T) {
	s := newSeed(t)
	ctx := context.Background()

	ch := s.addChannel(t, models.ChannelKindText, 0)
	other := s.addChannel(t, models.ChannelKindText, 0)

	t.Run("ids are per channel and sequential", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			m := &models.Message{ChannelID: ch.ID, AuthorID: &s.memberID, Text: "hello"}
			require.NoError(t, s.db.InsertMessage(ctx, m))
			assert.Equal(t, int64(i+1), m.ID)
			assert.False(t, m.CreatedAt.IsZero())
		}

		m := &models.Message{ChannelID: other.ID, AuthorID: &s.memberID, Text: "elsewhere"}
		require.NoError(t, s.db.InsertMessage(ctx, m))
		assert.Equal(t, int64(1), m.ID)
	})

	t.Run("tags survive the round trip", func(t *testing.T) {
		m := &models.Message{
			ChannelID: ch.ID,
			AuthorID:  &s.memberID,
			Text:      "ping",
			RoleTags:  []int64{s.custom.ID},
			UserTags:  []string{"owner#1"},
		}
		require.NoError(t, s.db.InsertMessage(ctx, m))

		got, err := s.db.GetMessage(ctx, ch.ID, m.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{s.custom.ID}, got.RoleTags)
		assert.Equal(t, []string{"owner#1"}, got.UserTags)
	})

	t.Run("update stamps updated_at", func(t *testing.T) {
		got, err := s.db.UpdateMessageText(ctx, ch.ID, 1, "edited")
		require.NoError(t, err)
		assert.Equal(t, "edited", got.Text)
		require.NotNil(t, got.UpdatedAt)

		_, err = s.db.UpdateMessageText(ctx, ch.ID, 99999, "x")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list pages newest first", func(t *testing.T) {
		page, err := s.db.ListMessages(ctx, ch.ID, 0, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(4), page[0].ID)
		assert.Equal(t, int64(3), page[1].ID)

		page, err = s.db.ListMessages(ctx, ch.ID, 3, 10)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(2), page[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.db.DeleteMessage(ctx, ch.ID, 2))
		_, err := s.db.GetMessage(ctx, ch.ID, 2)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.db.DeleteMessage(ctx, ch.ID, 2), store.ErrNotFound)
	})

	t.Run("reply target must exist at insert time", func(t *testing.T) {
		missing := int64(99999)
		m := &models.Message{ChannelID: ch.ID, AuthorID: &s.memberID, Text: "re", ReplyTo: &missing}
		assert.ErrorIs(t, s.db.InsertMessage(ctx, m), store.ErrReplyNotFound)

		target := int64(1)
		ok := &models.Message{ChannelID: ch.ID, AuthorID: &s.memberID, Text: "re", ReplyTo: &target}
		require.NoError(t, s.db.InsertMessage(ctx, ok))
	})

	t.Run("insert into retired channel fails", func(t *testing.T) {
		require.NoError(t, s.db.SetChannelRetired(ctx, other.ID, true))
		m := &models.Message{ChannelID: other.ID, AuthorID: &s.memberID, Text: "late"}
		assert.ErrorIs(t, s.db.InsertMessage(ctx, m), store.ErrNotFound)
	})
}

func TestPresenceQueries(t *testing.T) {
	s := newSeed(t)
	ctx := context.Background()

	room := s.addChannel(t, models.ChannelKindVoice, 0)
	small := s.addChannel(t, models.ChannelKindVoice, 1)

	t.Run("join and single location", func(t *testing.T) {
		p, err := s.db.MovePresence(ctx, s.memberID, room.ID, 0)
		require.NoError(t, err)
		assert.True(t, p.Inside)

		p, err = s.db.MovePresence(ctx, s.memberID, small.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, small.ID, p.ChannelID)

		current, err := s.db.GetPresence(ctx, s.memberID)
		require.NoError(t, err)
		assert.Equal(t, small.ID, current.ChannelID)

		roster, err := s.db.Roster(ctx, room.ID)
		require.NoError(t, err)
		assert.Empty(t, roster)
	})

	t.Run("capacity excludes self", func(t *testing.T) {
		// memberID already occupies the one slot; rejoining must not count
		// the user against themselves.
		_, err := s.db.MovePresence(ctx, s.memberID, small.ID, 1)
		require.NoError(t, err)

		_, err = s.db.MovePresence(ctx, s.ownerID, small.ID, 1)
		assert.ErrorIs(t, err, store.ErrChannelFull)
	})

	t.Run("mute carries across moves, streaming does not", func(t *testing.T) {
		muted := true
		streaming := true
		_, err := s.db.UpdatePresenceFlags(ctx, s.memberID, small.ID, store.PresenceUpdate{
			MutedSelf: &muted, Streaming: &streaming,
		})
		require.NoError(t, err)

		p, err := s.db.MovePresence(ctx, s.memberID, room.ID, 0)
		require.NoError(t, err)
		assert.True(t, p.MutedSelf)
		assert.False(t, p.Streaming)
	})

	t.Run("clear", func(t *testing.T) {
		p, err := s.db.ClearPresence(ctx, s.memberID)
		require.NoError(t, err)
		assert.Equal(t, room.ID, p.ChannelID)
		assert.False(t, p.Inside)

		_, err = s.db.GetPresence(ctx, s.memberID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.db.ClearPresence(ctx, s.memberID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("move into missing channel", func(t *testing.T) {
		_, err := s.db.MovePresence(ctx, s.memberID, 99999, 0)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
