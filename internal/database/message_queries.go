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

const messageColumns = `
	channel_id, id, author_id, body, role_tags, user_tags,
	reply_to, thread_id, created_at, updated_at
`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var m models.Message
	var roleTags pq.Int64Array
	var userTags pq.StringArray
	err := row.Scan(&m.ChannelID, &m.ID, &m.AuthorID, &m.Text,
		&roleTags, &userTags, &m.ReplyTo, &m.ThreadID,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.RoleTags = []int64(roleTags)
	m.UserTags = []string(userTags)
	return &m, nil
}

// InsertMessage allocates the next per-channel id and stores the message.
// The id comes from bumping the channel's high-water mark, so the row lock
// taken by the UPDATE serializes concurrent inserts to the same channel.
func (db *DB) InsertMessage(ctx context.Context, m *models.Message) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE channels
			SET last_message_id = last_message_id + 1
			WHERE id = $1 AND NOT retired
			RETURNING last_message_id
		`, m.ChannelID).Scan(&m.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to allocate message id: %w", err)
		}

		// The key-share lock holds the reply target in place until this
		// transaction commits, so a racing delete cannot leave the new
		// row pointing at nothing.
		if m.ReplyTo != nil {
			var replyID int64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM messages WHERE channel_id = $1 AND id = $2 FOR KEY SHARE`,
				m.ChannelID, *m.ReplyTo,
			).Scan(&replyID)
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrReplyNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to check reply target: %w", err)
			}
		}

		query := `
			INSERT INTO messages (
				channel_id, id, author_id, body, role_tags, user_tags,
				reply_to, thread_id
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at
		`
		err = tx.QueryRowContext(ctx, query,
			m.ChannelID, m.ID, m.AuthorID, m.Text,
			pq.Array(m.RoleTags), pq.Array(m.UserTags),
			m.ReplyTo, m.ThreadID,
		).Scan(&m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// GetMessage returns one message or store.ErrNotFound.
func (db *DB) GetMessage(ctx context.Context, channelID, messageID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE channel_id = $1 AND id = $2`

	m, err := scanMessage(db.QueryRowContext(ctx, query, channelID, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// UpdateMessageText replaces the body and stamps updated_at.
func (db *DB) UpdateMessageText(ctx context.Context, channelID, messageID int64, text string) (*models.Message, error) {
	query := `
		UPDATE messages
		SET body = $1, updated_at = NOW()
		WHERE channel_id = $2 AND id = $3
		RETURNING ` + messageColumns

	m, err := scanMessage(db.QueryRowContext(ctx, query, text, channelID, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return m, nil
}

// DeleteMessage removes the row.
func (db *DB) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM messages WHERE channel_id = $1 AND id = $2`, channelID, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
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

// ListMessages pages newest-first below beforeID. beforeID <= 0 starts
// from the latest message.
func (db *DB) ListMessages(ctx context.Context, channelID, beforeID int64, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id = $1 AND ($2 <= 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := db.QueryContext(ctx, query, channelID, beforeID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}
