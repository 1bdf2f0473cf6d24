// ABOUTME: SQLite CRUD for message rows keyed by (conversation, sender, sn)
// ABOUTME: Includes bulk clear per conversation and delete-by-age sweep

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/palaver-im/palaver/internal/entity"
)

const messageColumns = `cid, sender, sn, time, type, signature, payload`

// GetMessage retrieves a message by its natural key.
// Returns ErrNotFound if no such message exists.
func (s *SQLiteStore) GetMessage(ctx context.Context, cid, sender entity.ID, sn uint64) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE cid = ? AND sender = ? AND sn = ?
	`
	row := s.db.QueryRowContext(ctx, query, cid.String(), sender.String(), sn)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// InsertMessage creates a new message row.
// Returns ErrDuplicate if the (cid, sender, sn) tuple already exists.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.CID.String(),
		msg.Sender.String(),
		msg.SN,
		formatTime(msg.Time),
		int(msg.Type),
		msg.Signature,
		string(msg.Payload),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"cid", msg.CID.String(),
		"sender", msg.Sender.String(),
		"sn", msg.SN)
	return nil
}

// UpdateMessage rewrites an existing row in place; the (cid, sender, sn)
// identity of the row is preserved.
// Returns ErrNotFound if no such message exists.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *Message) error {
	query := `
		UPDATE messages
		SET time = ?, type = ?, signature = ?, payload = ?
		WHERE cid = ? AND sender = ? AND sn = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		formatTime(msg.Time),
		int(msg.Type),
		msg.Signature,
		string(msg.Payload),
		msg.CID.String(),
		msg.Sender.String(),
		msg.SN,
	)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated message",
		"cid", msg.CID.String(),
		"sender", msg.Sender.String(),
		"sn", msg.SN)
	return nil
}

// ListMessages retrieves the most recent messages of a conversation in
// chronological order (oldest first). If limit is 0 or negative, all
// messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, cid entity.ID, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent rows, then flip them back to chronological order
		query = `
			SELECT ` + messageColumns + `
			FROM (
				SELECT ` + messageColumns + `
				FROM messages
				WHERE cid = ?
				ORDER BY time DESC
				LIMIT ?
			)
			ORDER BY time ASC
		`
		args = []any{cid.String(), limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE cid = ?
			ORDER BY time ASC
		`
		args = []any{cid.String()}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// DeleteMessage removes a single message row.
// Returns ErrNotFound if no such message exists.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, cid, sender entity.ID, sn uint64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE cid = ? AND sender = ? AND sn = ?`,
		cid.String(), sender.String(), sn)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearMessages removes every message of a conversation and reports how many
// rows were deleted.
func (s *SQLiteStore) ClearMessages(ctx context.Context, cid entity.ID) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE cid = ?`, cid.String())
	if err != nil {
		return 0, fmt.Errorf("clearing messages: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if deleted > 0 {
		s.logger.Debug("cleared messages", "cid", cid.String(), "count", deleted)
	}
	return deleted, nil
}

// DeleteMessagesBefore removes all messages older than the cutoff across
// every conversation (the burn sweep) and reports how many were deleted.
func (s *SQLiteStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE time < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired messages: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if deleted > 0 {
		s.logger.Debug("deleted expired messages", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

func scanMessage(scan func(dest ...any) error) (*Message, error) {
	var msg Message
	var cid, sender, payload string
	var msgTime sql.NullString
	var msgType int

	if err := scan(&cid, &sender, &msg.SN, &msgTime, &msgType, &msg.Signature, &payload); err != nil {
		return nil, err
	}

	id, err := entity.ParseID(cid)
	if err != nil {
		return nil, fmt.Errorf("parsing message cid: %w", err)
	}
	msg.CID = id

	id, err = entity.ParseID(sender)
	if err != nil {
		return nil, fmt.Errorf("parsing message sender: %w", err)
	}
	msg.Sender = id

	msg.Time, err = parseTime(msgTime)
	if err != nil {
		return nil, err
	}
	msg.Type = entity.ContentType(msgType)
	msg.Payload = []byte(payload)
	return &msg, nil
}
