// Package testutil provides shared fixtures for service tests: a seeded
// in-memory world with a server, its structural roles and a few members.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store/memory"
)

// Well-known fixture user ids.
const (
	CreatorUserID = int64(1)
	StudentUserID = int64(2)
	GuestUserID   = int64(3) // member with no roles
)

// World is a seeded in-memory universe for tests.
type World struct {
	Store       *memory.Store
	Server      *models.Server
	CreatorRole *models.Role
	StudentRole *models.Role
}

// NewWorld seeds a server owned by CreatorUserID with a Creator role, a
// custom "student" role held by StudentUserID, and a roleless guest.
func NewWorld(t *testing.T) *World {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	srv := &models.Server{OwnerID: CreatorUserID, Name: "fixture"}
	require.NoError(t, st.CreateServer(ctx, srv))

	creatorRole := &models.Role{ServerID: srv.ID, Name: "creator", Kind: models.RoleKindCreator}
	require.NoError(t, st.CreateRole(ctx, creatorRole))

	studentRole := &models.Role{ServerID: srv.ID, Name: "student", Color: "#00aa55", Kind: models.RoleKindCustom}
	require.NoError(t, st.CreateRole(ctx, studentRole))

	require.NoError(t, st.CreateMembership(ctx, &models.Membership{
		ServerID: srv.ID, UserID: CreatorUserID, DisplayName: "alice", Tag: "alice#1",
		RoleIDs: []int64{creatorRole.ID},
	}))
	require.NoError(t, st.CreateMembership(ctx, &models.Membership{
		ServerID: srv.ID, UserID: StudentUserID, DisplayName: "bob", Tag: "bob#2",
		RoleIDs: []int64{studentRole.ID},
	}))
	require.NoError(t, st.CreateMembership(ctx, &models.Membership{
		ServerID: srv.ID, UserID: GuestUserID, DisplayName: "carol", Tag: "carol#3",
	}))

	return &World{Store: st, Server: srv, CreatorRole: creatorRole, StudentRole: studentRole}
}

// AddChannel creates a channel on the fixture server. Grant sets default
// to empty; pass role ids to open view/write (and join for voice kinds).
func (w *World) AddChannel(t *testing.T, kind models.ChannelKind, grantRoles ...int64) *models.Channel {
	t.Helper()
	ch := &models.Channel{
		ServerID: w.Server.ID,
		Name:     "fixture-" + kind.String(),
		Kind:     kind,
		CanView:  models.NewRoleSet(grantRoles...),
		CanWrite: models.NewRoleSet(grantRoles...),
		CanJoin:  models.NewRoleSet(grantRoles...),
		Notified: models.NewRoleSet(),
	}
	require.NoError(t, w.Store.CreateChannel(context.Background(), ch))
	return ch
}

// Logger returns a no-op logger for wiring components under test.
func Logger() *zap.Logger {
	return zap.NewNop()
}
