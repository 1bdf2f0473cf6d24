// ABOUTME: SQLite CRUD for conversation aggregate rows
// ABOUTME: Listing orders by last message time, newest first

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/palaver-im/palaver/internal/entity"
)

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id entity.ID) (*Conversation, error) {
	query := `
		SELECT cid, unread, preview, last_time, mention_sn
		FROM conversations
		WHERE cid = ?
	`
	row := s.db.QueryRowContext(ctx, query, id.String())
	c, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all conversations, most recent activity first.
// Conversations that never saw a message sort last.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	query := `
		SELECT cid, unread, preview, last_time, mention_sn
		FROM conversations
		ORDER BY last_time DESC NULLS LAST, cid
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return conversations, nil
}

// InsertConversation creates a new conversation row.
// Returns ErrDuplicate if the conversation already exists.
func (s *SQLiteStore) InsertConversation(ctx context.Context, c *Conversation) error {
	query := `
		INSERT INTO conversations (cid, unread, preview, last_time, mention_sn)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID.String(),
		c.Unread,
		c.Preview,
		formatTime(c.LastTime),
		c.MentionSN,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "cid", c.ID.String())
	return nil
}

// UpdateConversation updates an existing conversation row.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, c *Conversation) error {
	query := `
		UPDATE conversations
		SET unread = ?, preview = ?, last_time = ?, mention_sn = ?
		WHERE cid = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		c.Unread,
		c.Preview,
		formatTime(c.LastTime),
		c.MentionSN,
		c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation", "cid", c.ID.String(), "unread", c.Unread)
	return nil
}

// DeleteConversation removes a conversation row.
// Returns ErrNotFound if the conversation doesn't exist. Messages are removed
// separately via ClearMessages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id entity.ID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE cid = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "cid", id.String())
	return nil
}

func scanConversation(scan func(dest ...any) error) (*Conversation, error) {
	var c Conversation
	var cid string
	var lastTime sql.NullString

	if err := scan(&cid, &c.Unread, &c.Preview, &lastTime, &c.MentionSN); err != nil {
		return nil, err
	}

	id, err := entity.ParseID(cid)
	if err != nil {
		return nil, fmt.Errorf("parsing conversation id: %w", err)
	}
	c.ID = id

	c.LastTime, err = parseTime(lastTime)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
