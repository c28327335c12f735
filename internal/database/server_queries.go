package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

// CreateServer inserts a server and fills in its generated id.
func (db *DB) CreateServer(ctx context.Context, s *models.Server) error {
	query := `
		INSERT INTO servers (owner_id, name)
		VALUES ($1, $2)
		RETURNING id
	`
	if err := db.QueryRowContext(ctx, query, s.OwnerID, s.Name).Scan(&s.ID); err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return nil
}

// GetServer returns the server or store.ErrNotFound.
func (db *DB) GetServer(ctx context.Context, id int64) (*models.Server, error) {
	query := `SELECT id, owner_id, name FROM servers WHERE id = $1`

	var s models.Server
	err := db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.OwnerID, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return &s, nil
}

// CreateMembership inserts a membership row and its role assignments.
func (db *DB) CreateMembership(ctx context.Context, m *models.Membership) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO memberships (server_id, user_id, display_name, tag, banned, ban_reason)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING since
		`
		err := tx.QueryRowContext(ctx, query,
			m.ServerID, m.UserID, m.DisplayName, m.Tag, m.Banned, m.BanReason,
		).Scan(&m.Since)
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}

		for _, roleID := range m.RoleIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO membership_roles (server_id, user_id, role_id) VALUES ($1, $2, $3)`,
				m.ServerID, m.UserID, roleID,
			)
			if err != nil {
				return fmt.Errorf("failed to assign initial role: %w", err)
			}
		}
		return nil
	})
}

const membershipColumns = `
	m.server_id, m.user_id, m.display_name, m.tag, m.banned, m.ban_reason, m.since,
	COALESCE(array_agg(mr.role_id) FILTER (WHERE mr.role_id IS NOT NULL), '{}')
`

func scanMembership(row interface{ Scan(...any) error }) (*models.Membership, error) {
	var m models.Membership
	var roleIDs pq.Int64Array
	err := row.Scan(&m.ServerID, &m.UserID, &m.DisplayName, &m.Tag,
		&m.Banned, &m.BanReason, &m.Since, &roleIDs)
	if err != nil {
		return nil, err
	}
	m.RoleIDs = []int64(roleIDs)
	return &m, nil
}

// GetMembership returns one membership with its role set.
func (db *DB) GetMembership(ctx context.Context, serverID, userID int64) (*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships m
		LEFT JOIN membership_roles mr
		  ON mr.server_id = m.server_id AND mr.user_id = m.user_id
		WHERE m.server_id = $1 AND m.user_id = $2
		GROUP BY m.server_id, m.user_id
	`
	m, err := scanMembership(db.QueryRowContext(ctx, query, serverID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMemberships returns all memberships of a server.
func (db *DB) ListMemberships(ctx context.Context, serverID int64) ([]models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships m
		LEFT JOIN membership_roles mr
		  ON mr.server_id = m.server_id AND mr.user_id = m.user_id
		WHERE m.server_id = $1
		GROUP BY m.server_id, m.user_id
		ORDER BY m.user_id
	`
	rows, err := db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	out := make([]models.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return out, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
