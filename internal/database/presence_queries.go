package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

const presenceColumns = `user_id, channel_id, inside, muted_self, muted_by_other, streaming`

func scanPresence(row interface{ Scan(...any) error }) (*models.Presence, error) {
	var p models.Presence
	err := row.Scan(&p.UserID, &p.ChannelID, &p.Inside,
		&p.MutedSelf, &p.MutedByOther, &p.Streaming)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPresence returns the user's current inside row, if any.
func (db *DB) GetPresence(ctx context.Context, userID int64) (*models.Presence, error) {
	query := `SELECT ` + presenceColumns + ` FROM voice_presence WHERE user_id = $1 AND inside`

	p, err := scanPresence(db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	return p, nil
}

// MovePresence performs the atomic remove-then-insert. The channel row is
// locked first so the capacity count cannot be overshot by a join burst;
// the partial unique index on (user_id) WHERE inside backs the
// single-location invariant. Mute flags carry over, streaming resets.
func (db *DB) MovePresence(ctx context.Context, userID, channelID int64, capacity int) (*models.Presence, error) {
	var result *models.Presence
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var lockedID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM channels WHERE id = $1 FOR UPDATE`,
			channelID,
		).Scan(&lockedID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock channel: %w", err)
		}

		if capacity > 0 {
			var occupied int
			err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM voice_presence
				WHERE channel_id = $1 AND inside AND user_id <> $2
			`, channelID, userID).Scan(&occupied)
			if err != nil {
				return fmt.Errorf("failed to count occupants: %w", err)
			}
			if occupied >= capacity {
				return store.ErrChannelFull
			}
		}

		// Carry the mute preference from wherever the user currently sits.
		var mutedSelf, mutedByOther bool
		err = tx.QueryRowContext(ctx, `
			SELECT muted_self, muted_by_other FROM voice_presence
			WHERE user_id = $1 AND inside
			FOR UPDATE
		`, userID).Scan(&mutedSelf, &mutedByOther)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read prior presence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE voice_presence
			SET inside = FALSE, streaming = FALSE
			WHERE user_id = $1 AND inside AND channel_id <> $2
		`, userID, channelID)
		if err != nil {
			return fmt.Errorf("failed to clear prior presence: %w", err)
		}

		query := `
			INSERT INTO voice_presence (user_id, channel_id, inside, muted_self, muted_by_other, streaming)
			VALUES ($1, $2, TRUE, $3, $4, FALSE)
			ON CONFLICT (user_id, channel_id) DO UPDATE
			SET inside = TRUE,
			    streaming = FALSE,
			    muted_self = voice_presence.muted_self OR EXCLUDED.muted_self,
			    muted_by_other = voice_presence.muted_by_other OR EXCLUDED.muted_by_other
			RETURNING ` + presenceColumns

		p, err := scanPresence(tx.QueryRowContext(ctx, query, userID, channelID, mutedSelf, mutedByOther))
		if err != nil {
			return fmt.Errorf("failed to upsert presence: %w", err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClearPresence clears the inside flag, dropping rows that become fully
// default. Returns the cleared row so callers can emit the delta.
func (db *DB) ClearPresence(ctx context.Context, userID int64) (*models.Presence, error) {
	var result *models.Presence
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE voice_presence
			SET inside = FALSE, streaming = FALSE
			WHERE user_id = $1 AND inside
			RETURNING ` + presenceColumns

		p, err := scanPresence(tx.QueryRowContext(ctx, query, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to clear presence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM voice_presence
			WHERE user_id = $1 AND channel_id = $2
			  AND NOT inside AND NOT muted_self AND NOT muted_by_other AND NOT streaming
		`, userID, p.ChannelID)
		if err != nil {
			return fmt.Errorf("failed to prune default presence row: %w", err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdatePresenceFlags applies a partial flag update.
func (db *DB) UpdatePresenceFlags(ctx context.Context, userID, channelID int64, upd store.PresenceUpdate) (*models.Presence, error) {
	query := `
		UPDATE voice_presence
		SET muted_self = COALESCE($1, muted_self),
		    muted_by_other = COALESCE($2, muted_by_other),
		    streaming = COALESCE($3, streaming)
		WHERE user_id = $4 AND channel_id = $5
		RETURNING ` + presenceColumns

	p, err := scanPresence(db.QueryRowContext(ctx, query,
		upd.MutedSelf, upd.MutedByOther, upd.Streaming, userID, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update presence flags: %w", err)
	}
	return p, nil
}

// Roster returns all inside rows for a voice channel.
func (db *DB) Roster(ctx context.Context, channelID int64) ([]models.Presence, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM voice_presence
		WHERE channel_id = $1 AND inside
		ORDER BY user_id
	`
	rows, err := db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roster: %w", err)
	}
	defer rows.Close()

	var out []models.Presence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roster: %w", err)
	}
	return out, nil
}
