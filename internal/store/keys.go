// ABOUTME: SQLite CRUD for stored private key blobs
// ABOUTME: Identity keys replace in place; decrypt keys accumulate, newest first

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/palaver-im/palaver/internal/entity"
)

// SavePrivateKey stores a key blob. An identity key ("meta") replaces any
// previous one for the user; decrypt keys ("msg") accumulate.
func (s *SQLiteStore) SavePrivateKey(ctx context.Context, key *entity.PrivateKey) error {
	if key.Type == entity.KeyTypeMeta {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM private_keys WHERE uid = ? AND type = ?`,
			key.User.String(), key.Type); err != nil {
			return fmt.Errorf("replacing identity key: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO private_keys (uid, type, key, created_at)
		VALUES (?, ?, ?, ?)
	`, key.User.String(), key.Type, key.Data, formatTime(key.Created))
	if err != nil {
		return fmt.Errorf("saving private key: %w", err)
	}

	s.logger.Debug("saved private key", "uid", key.User.String(), "type", key.Type)
	return nil
}

// GetPrivateKey retrieves the newest key of the given type for a user.
// Returns ErrNotFound if none is stored.
func (s *SQLiteStore) GetPrivateKey(ctx context.Context, user entity.ID, keyType string) (*entity.PrivateKey, error) {
	query := `
		SELECT uid, type, key, created_at
		FROM private_keys
		WHERE uid = ? AND type = ?
		ORDER BY id DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, user.String(), keyType)
	key, err := scanPrivateKey(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying private key: %w", err)
	}
	return key, nil
}

// ListDecryptKeys returns every key usable for decryption, newest first:
// all message keys followed by the identity key.
func (s *SQLiteStore) ListDecryptKeys(ctx context.Context, user entity.ID) ([]*entity.PrivateKey, error) {
	query := `
		SELECT uid, type, key, created_at
		FROM private_keys
		WHERE uid = ?
		ORDER BY CASE type WHEN ? THEN 1 ELSE 0 END, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, user.String(), entity.KeyTypeMeta)
	if err != nil {
		return nil, fmt.Errorf("querying decrypt keys: %w", err)
	}
	defer rows.Close()

	var keys []*entity.PrivateKey
	for rows.Next() {
		key, err := scanPrivateKey(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning private key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating private key rows: %w", err)
	}
	return keys, nil
}

func scanPrivateKey(scan func(dest ...any) error) (*entity.PrivateKey, error) {
	var key entity.PrivateKey
	var uid string
	var created sql.NullString

	if err := scan(&uid, &key.Type, &key.Data, &created); err != nil {
		return nil, err
	}

	id, err := entity.ParseID(uid)
	if err != nil {
		return nil, fmt.Errorf("parsing key uid: %w", err)
	}
	key.User = id

	key.Created, err = parseTime(created)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
