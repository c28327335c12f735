package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorchat/parlor-server/internal/apperr"
	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
	"github.com/parlorchat/parlor-server/internal/testutil"
)

func grantsOf(c *models.Channel) store.GrantSets {
	return store.GrantSets{CanView: c.CanView, CanWrite: c.CanWrite, CanJoin: c.CanJoin, Notified: c.Notified}
}

func TestRequireMember(t *testing.T) {
	w := testutil.NewWorld(t)
	r := NewResolver(w.Store, testutil.Logger())
	ctx := context.Background()

	m, err := r.RequireMember(ctx, w.Server.ID, testutil.StudentUserID)
	require.NoError(t, err)
	assert.Equal(t, "bob", m.DisplayName)

	_, err = r.RequireMember(ctx, w.Server.ID, 999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound, apperr.SubjectUser))
}

func TestRequireMember_BannedTreatedAsAbsent(t *testing.T) {
	w := testutil.NewWorld(t)
	r := NewResolver(w.Store, testutil.Logger())
	ctx := context.Background()

	require.NoError(t, w.Store.CreateMembership(ctx, &models.Membership{
		ServerID: w.Server.ID, UserID: 50, Tag: "banned#1", Banned: true, BanReason: "spam",
	}))

	_, err := r.RequireMember(ctx, w.Server.ID, 50)
	assert.True(t, apperr.Is(err, apperr.KindNotFound, apperr.SubjectUser))
}

func TestRequireCreator(t *testing.T) {
	w := testutil.NewWorld(t)
	r := NewResolver(w.Store, testutil.Logger())
	ctx := context.Background()

	_, err := r.RequireCreator(ctx, w.Server.ID, testutil.CreatorUserID)
	assert.NoError(t, err)

	_, err = r.RequireCreator(ctx, w.Server.ID, testutil.StudentUserID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden, apperr.SubjectUser))

	_, err = r.RequireNotCreator(ctx, w.Server.ID, testutil.CreatorUserID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden, apperr.SubjectUser))

	_, err = r.RequireNotCreator(ctx, w.Server.ID, testutil.StudentUserID)
	assert.NoError(t, err)
}

func TestRequireCapabilities(t *testing.T) {
	w := testutil.NewWorld(t)
	r := NewResolver(w.Store, testutil.Logger())
	ctx := context.Background()

	// creator bypasses every capability check
	assert.NoError(t, r.RequireCanChangeRoles(ctx, w.Server.ID, testutil.CreatorUserID))
	assert.NoError(t, r.RequireCanManageChannels(ctx, w.Server.ID, testutil.CreatorUserID))

	// the student role carries none of them
	err := r.RequireCanChangeRoles(ctx, w.Server.ID, testutil.StudentUserID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden, apperr.SubjectUser))
	err = r.RequireCanMuteOthers(ctx, w.Server.ID, testutil.StudentUserID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden, apperr.SubjectUser))

	// grant manage-channels through a second role and re-check
	role := &models.Role{ServerID: w.Server.ID, Name: "mod", Kind: models.RoleKindCustom,
		Capabilities: models.Capabilities{ManageChannels: true}}
	require.NoError(t, w.Store.CreateRole(ctx, role))
	require.NoError(t, w.Store.AssignRole(ctx, w.Server.ID, testutil.StudentUserID, role.ID))
	assert.NoError(t, r.RequireCanManageChannels(ctx, w.Server.ID, testutil.StudentUserID))
}

func TestResolveViewableChannel_HidesUnviewable(t *testing.T) {
	w := testutil.NewWorld(t)
	r := NewResolver(w.Store, testutil.Logger())
	ctx := context.Background()

	hidden := w.AddChannel(t, models.ChannelKindText) // no grants at all

	// the student cannot view: existence must not be revealed
	_, _, err := r.ResolveViewableChannel(ctx, hidden.ID, testutil.StudentUserID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound, apperr.SubjectChannel))

	// the creator bypasses grants
	ch, _, err := r.ResolveViewableChannel(ctx, hidden.ID, testutil.CreatorUserID)
	require.NoError(t, err)
	assert.Equal(t, hidden.ID, ch.ID)

	// unknown channel id is the same failure
	_, _, err = r.ResolveViewableChannel(ctx, 424242, testutil.CreatorUserID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound, apperr.SubjectChannel))
}

func TestRequireCanWriteInChannel_DistinguishesViewFromWrite(t *testing.T) {
	w := testutil.NewWorld(t)
	r := NewResolver(w.Store, testutil.Logger())
	ctx := context.Background()

	ch := w.AddChannel(t, models.ChannelKindText, w.StudentRole.ID)
	// view stays, write goes
	ch.CanWrite = models.NewRoleSet()
	require.NoError(t, w.Store.UpdateChannelGrants(ctx, ch.ID, grantsOf(ch)))

	_, err := r.RequireCanWriteInChannel(ctx, ch.ID, testutil.StudentUserID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden, apperr.SubjectUser),
		"viewable but unwritable must be Forbidden, not NotFound")

	// no view at all folds into NotFound
	ch.CanView = models.NewRoleSet()
	require.NoError(t, w.Store.UpdateChannelGrants(ctx, ch.ID, grantsOf(ch)))
	_, err = r.RequireCanWriteInChannel(ctx, ch.ID, testutil.StudentUserID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound, apperr.SubjectChannel))
}

func TestRequireCanJoinChannel(t *testing.T) {
	w := testutil.NewWorld(t)
	r := NewResolver(w.Store, testutil.Logger())
	ctx := context.Background()

	text := w.AddChannel(t, models.ChannelKindText, w.StudentRole.ID)
	_, _, err := r.RequireCanJoinChannel(ctx, text.ID, testutil.StudentUserID)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))

	voice := w.AddChannel(t, models.ChannelKindVoice, w.StudentRole.ID)
	_, roles, err := r.RequireCanJoinChannel(ctx, voice.ID, testutil.StudentUserID)
	require.NoError(t, err)
	assert.NotEmpty(t, roles)

	voice.CanJoin = models.NewRoleSet()
	require.NoError(t, w.Store.UpdateChannelGrants(ctx, voice.ID, grantsOf(voice)))
	_, _, err = r.RequireCanJoinChannel(ctx, voice.ID, testutil.StudentUserID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden, apperr.SubjectUser))
}
