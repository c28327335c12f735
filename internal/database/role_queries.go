package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

const roleColumns = `
	id, server_id, name, color, kind,
	change_roles, manage_channels, delete_users, mute_others,
	delete_others_messages, ignore_channel_capacity, create_roles,
	create_lessons, check_attendance, use_invitations
`

func scanRole(row interface{ Scan(...any) error }) (*models.Role, error) {
	var r models.Role
	c := &r.Capabilities
	err := row.Scan(&r.ID, &r.ServerID, &r.Name, &r.Color, &r.Kind,
		&c.ChangeRoles, &c.ManageChannels, &c.DeleteUsers, &c.MuteOthers,
		&c.DeleteOthersMessages, &c.IgnoreChannelCapacity, &c.CreateRoles,
		&c.CreateLessons, &c.CheckAttendance, &c.UseInvitations)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRole inserts a role and fills in its generated id.
func (db *DB) CreateRole(ctx context.Context, r *models.Role) error {
	query := `
		INSERT INTO roles (
			server_id, name, color, kind,
			change_roles, manage_channels, delete_users, mute_others,
			delete_others_messages, ignore_channel_capacity, create_roles,
			create_lessons, check_attendance, use_invitations
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	c := r.Capabilities
	err := db.QueryRowContext(ctx, query,
		r.ServerID, r.Name, r.Color, r.Kind,
		c.ChangeRoles, c.ManageChannels, c.DeleteUsers, c.MuteOthers,
		c.DeleteOthersMessages, c.IgnoreChannelCapacity, c.CreateRoles,
		c.CreateLessons, c.CheckAttendance, c.UseInvitations,
	).Scan(&r.ID)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole returns the role or store.ErrNotFound.
func (db *DB) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	r, err := scanRole(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// ListRoles returns all roles of a server, oldest first.
func (db *DB) ListRoles(ctx context.Context, serverID int64) ([]models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE server_id = $1 ORDER BY id`

	rows, err := db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

// RolesForUser returns the roles held by one member.
func (db *DB) RolesForUser(ctx context.Context, serverID, userID int64) ([]models.Role, error) {
	if _, err := db.GetMembership(ctx, serverID, userID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE id IN (
			SELECT role_id FROM membership_roles WHERE server_id = $1 AND user_id = $2
		)
		ORDER BY id
	`
	rows, err := db.QueryContext(ctx, query, serverID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member roles: %w", err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

func collectRoles(rows *sql.Rows) ([]models.Role, error) {
	var out []models.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return out, nil
}

// DeleteRole removes the role. Channel grants and member assignments go
// with it through the cascading foreign keys.
func (db *DB) DeleteRole(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AssignRole adds a role to a member's role set; idempotent.
func (db *DB) AssignRole(ctx context.Context, serverID, userID, roleID int64) error {
	if _, err := db.GetMembership(ctx, serverID, userID); err != nil {
		return err
	}

	query := `
		INSERT INTO membership_roles (server_id, user_id, role_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	_, err := db.ExecContext(ctx, query, serverID, userID, roleID)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// UnassignRole removes a role from a member's role set.
func (db *DB) UnassignRole(ctx context.Context, serverID, userID, roleID int64) error {
	if _, err := db.GetMembership(ctx, serverID, userID); err != nil {
		return err
	}

	_, err := db.ExecContext(ctx,
		`DELETE FROM membership_roles WHERE server_id = $1 AND user_id = $2 AND role_id = $3`,
		serverID, userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	return nil
}

// TransferOwnership moves the Creator role and the owner pointer from one
// member to another in a single transaction.
func (db *DB) TransferOwnership(ctx context.Context, serverID, fromUser, toUser int64) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		var creatorRoleID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM roles WHERE server_id = $1 AND kind = $2`,
			serverID, models.RoleKindCreator,
		).Scan(&creatorRoleID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to find creator role: %w", err)
		}

		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM memberships WHERE server_id = $1 AND user_id = $2)`,
			serverID, toUser,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check target membership: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM membership_roles WHERE server_id = $1 AND user_id = $2 AND role_id = $3`,
			serverID, fromUser, creatorRoleID,
		)
		if err != nil {
			return fmt.Errorf("failed to strip creator role: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO membership_roles (server_id, user_id, role_id) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			serverID, toUser, creatorRoleID,
		)
		if err != nil {
			return fmt.Errorf("failed to grant creator role: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE servers SET owner_id = $1 WHERE id = $2`,
			toUser, serverID,
		)
		if err != nil {
			return fmt.Errorf("failed to update server owner: %w", err)
		}
		return nil
	})
}
