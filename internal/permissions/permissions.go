// Package permissions evaluates role grants against channels. Everything
// here is a pure function over already-loaded rows: no I/O, no locking,
// safe to call from any goroutine.
package permissions

import "github.com/parlorchat/parlor-server/internal/models"

// bypasses reports whether any held role short-circuits explicit grants.
// Creator and Admin kinds see and do everything in their server.
func bypasses(roles []models.Role) bool {
	for _, r := range roles {
		if r.Kind == models.RoleKindCreator || r.Kind == models.RoleKindAdmin {
			return true
		}
	}
	return false
}

// intersects reports whether any held role id is in the grant set.
func intersects(roles []models.Role, set models.RoleSet) bool {
	for _, r := range roles {
		if set.Contains(r.ID) {
			return true
		}
	}
	return false
}

// CanView reports whether a user holding the given roles may see the
// channel and its message history.
func CanView(roles []models.Role, ch *models.Channel) bool {
	return bypasses(roles) || intersects(roles, ch.CanView)
}

// CanWrite reports whether the roles allow posting to the channel.
func CanWrite(roles []models.Role, ch *models.Channel) bool {
	return bypasses(roles) || intersects(roles, ch.CanWrite)
}

// CanJoin reports whether the roles allow joining the voice channel.
func CanJoin(roles []models.Role, ch *models.Channel) bool {
	return bypasses(roles) || intersects(roles, ch.CanJoin)
}

// IsNotified reports whether the roles subscribe the user to announcement
// notifications for the channel.
func IsNotified(roles []models.Role, ch *models.Channel) bool {
	return bypasses(roles) || intersects(roles, ch.Notified)
}

// HasCapability folds a capability over all held roles: the effective
// value is the OR across roles, with Creator/Admin unconditionally true.
func HasCapability(roles []models.Role, pick func(models.Capabilities) bool) bool {
	if bypasses(roles) {
		return true
	}
	for _, r := range roles {
		if pick(r.Capabilities) {
			return true
		}
	}
	return false
}

// CanChangeRoles is the change-roles capability fold.
func CanChangeRoles(roles []models.Role) bool {
	return HasCapability(roles, func(c models.Capabilities) bool { return c.ChangeRoles })
}

// CanManageChannels is the manage-channels capability fold.
func CanManageChannels(roles []models.Role) bool {
	return HasCapability(roles, func(c models.Capabilities) bool { return c.ManageChannels })
}

// CanMuteOthers is the mute-others capability fold.
func CanMuteOthers(roles []models.Role) bool {
	return HasCapability(roles, func(c models.Capabilities) bool { return c.MuteOthers })
}

// CanCreateRoles is the create-roles capability fold.
func CanCreateRoles(roles []models.Role) bool {
	return HasCapability(roles, func(c models.Capabilities) bool { return c.CreateRoles })
}

// IgnoresCapacity is the ignore-channel-capacity capability fold.
func IgnoresCapacity(roles []models.Role) bool {
	return HasCapability(roles, func(c models.Capabilities) bool { return c.IgnoreChannelCapacity })
}
