package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

// Grant kind discriminator values in channel_role_grants.
const (
	grantView     = 0
	grantWrite    = 1
	grantJoin     = 2
	grantNotified = 3
)

func scanChannel(row interface{ Scan(...any) error }) (*models.Channel, error) {
	var c models.Channel
	err := row.Scan(&c.ID, &c.ServerID, &c.Name, &c.Kind,
		&c.ParentID, &c.Capacity, &c.Retired)
	if err != nil {
		return nil, err
	}
	c.CanView = models.NewRoleSet()
	c.CanWrite = models.NewRoleSet()
	c.CanJoin = models.NewRoleSet()
	c.Notified = models.NewRoleSet()
	return &c, nil
}

func applyGrant(c *models.Channel, kind int, roleID int64) {
	switch kind {
	case grantView:
		c.CanView[roleID] = struct{}{}
	case grantWrite:
		c.CanWrite[roleID] = struct{}{}
	case grantJoin:
		c.CanJoin[roleID] = struct{}{}
	case grantNotified:
		c.Notified[roleID] = struct{}{}
	}
}

// CreateChannel inserts a channel and its initial grant rows.
func (db *DB) CreateChannel(ctx context.Context, c *models.Channel) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO channels (server_id, name, kind, parent_id, capacity, retired)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`
		err := tx.QueryRowContext(ctx, query,
			c.ServerID, c.Name, c.Kind, c.ParentID, c.Capacity, c.Retired,
		).Scan(&c.ID)
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to create channel: %w", err)
		}
		return insertGrantRows(ctx, tx, c.ID, store.GrantSets{
			CanView:  c.CanView,
			CanWrite: c.CanWrite,
			CanJoin:  c.CanJoin,
			Notified: c.Notified,
		})
	})
}

func insertGrantRows(ctx context.Context, tx *sql.Tx, channelID int64, grants store.GrantSets) error {
	sets := []struct {
		kind int
		set  models.RoleSet
	}{
		{grantView, grants.CanView},
		{grantWrite, grants.CanWrite},
		{grantJoin, grants.CanJoin},
		{grantNotified, grants.Notified},
	}
	for _, s := range sets {
		for roleID := range s.set {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO channel_role_grants (channel_id, role_id, grant_kind) VALUES ($1, $2, $3)`,
				channelID, roleID, s.kind,
			)
			if err != nil {
				return fmt.Errorf("failed to insert grant row: %w", err)
			}
		}
	}
	return nil
}

func (db *DB) getChannel(ctx context.Context, id int64, includeRetired bool) (*models.Channel, error) {
	query := `
		SELECT id, server_id, name, kind, parent_id, capacity, retired
		FROM channels WHERE id = $1
	`
	c, err := scanChannel(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if c.Retired && !includeRetired {
		return nil, store.ErrNotFound
	}

	rows, err := db.QueryContext(ctx,
		`SELECT role_id, grant_kind FROM channel_role_grants WHERE channel_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		var kind int
		if err := rows.Scan(&roleID, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan grant row: %w", err)
		}
		applyGrant(c, kind, roleID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grant rows: %w", err)
	}
	return c, nil
}

// GetChannel returns the channel, hiding retired ones.
func (db *DB) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	return db.getChannel(ctx, id, false)
}

// GetChannelAny returns the channel regardless of its retired flag.
func (db *DB) GetChannelAny(ctx context.Context, id int64) (*models.Channel, error) {
	return db.getChannel(ctx, id, true)
}

// ListChannels returns all non-retired channels of a server with their
// grant sets, loaded in two queries.
func (db *DB) ListChannels(ctx context.Context, serverID int64) ([]models.Channel, error) {
	query := `
		SELECT id, server_id, name, kind, parent_id, capacity, retired
		FROM channels
		WHERE server_id = $1 AND NOT retired
		ORDER BY id
	`
	rows, err := db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var out []models.Channel
	index := make(map[int64]int)
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		index[c.ID] = len(out)
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channels: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	grantQuery := `
		SELECT g.channel_id, g.role_id, g.grant_kind
		FROM channel_role_grants g
		JOIN channels c ON c.id = g.channel_id
		WHERE c.server_id = $1 AND NOT c.retired
	`
	grantRows, err := db.QueryContext(ctx, grantQuery, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel grants: %w", err)
	}
	defer grantRows.Close()

	for grantRows.Next() {
		var channelID, roleID int64
		var kind int
		if err := grantRows.Scan(&channelID, &roleID, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan grant row: %w", err)
		}
		if i, ok := index[channelID]; ok {
			applyGrant(&out[i], kind, roleID)
		}
	}
	if err := grantRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grant rows: %w", err)
	}
	return out, nil
}

// SetChannelRetired flips the soft-delete flag.
func (db *DB) SetChannelRetired(ctx context.Context, id int64, retired bool) error {
	res, err := db.ExecContext(ctx,
		`UPDATE channels SET retired = $1 WHERE id = $2`, retired, id)
	if err != nil {
		return fmt.Errorf("failed to set channel retired: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateChannelGrants replaces the four grant sets.
func (db *DB) UpdateChannelGrants(ctx context.Context, id int64, grants store.GrantSets) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM channels WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check channel: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM channel_role_grants WHERE channel_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear grant rows: %w", err)
		}
		return insertGrantRows(ctx, tx, id, grants)
	})
}
