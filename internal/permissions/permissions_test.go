package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parlorchat/parlor-server/internal/models"
)

func customRole(id int64) models.Role {
	return models.Role{ID: id, ServerID: 1, Name: "custom", Kind: models.RoleKindCustom}
}

func TestCanView_GrantIntersection(t *testing.T) {
	ch := &models.Channel{
		ID:      10,
		Kind:    models.ChannelKindText,
		CanView: models.NewRoleSet(2, 3),
	}

	tests := []struct {
		name     string
		roles    []models.Role
		expected bool
	}{
		{"no roles", nil, false},
		{"role outside grant", []models.Role{customRole(7)}, false},
		{"role inside grant", []models.Role{customRole(2)}, true},
		{"one of many matches", []models.Role{customRole(7), customRole(3)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanView(tt.roles, ch))
		})
	}
}

func TestStructuralKindsBypassGrants(t *testing.T) {
	ch := &models.Channel{ID: 10, Kind: models.ChannelKindText} // empty grant sets

	creator := models.Role{ID: 1, Kind: models.RoleKindCreator}
	admin := models.Role{ID: 2, Kind: models.RoleKindAdmin}

	assert.True(t, CanView([]models.Role{creator}, ch))
	assert.True(t, CanWrite([]models.Role{creator}, ch))
	assert.True(t, CanJoin([]models.Role{admin}, ch))
	assert.True(t, IsNotified([]models.Role{admin}, ch))
	assert.True(t, CanChangeRoles([]models.Role{creator}))
	assert.True(t, CanMuteOthers([]models.Role{admin}))
}

func TestHasCapability_ORFold(t *testing.T) {
	muter := customRole(5)
	muter.Capabilities.MuteOthers = true
	plain := customRole(6)

	assert.False(t, CanMuteOthers([]models.Role{plain}))
	assert.True(t, CanMuteOthers([]models.Role{plain, muter}))
	assert.False(t, CanMuteOthers(nil))
}

func TestCapabilityFolds(t *testing.T) {
	r := customRole(9)
	r.Capabilities = models.Capabilities{
		ManageChannels:        true,
		CreateRoles:           true,
		IgnoreChannelCapacity: true,
	}
	held := []models.Role{r}

	assert.True(t, CanManageChannels(held))
	assert.True(t, CanCreateRoles(held))
	assert.True(t, IgnoresCapacity(held))
	assert.False(t, CanChangeRoles(held))
}
