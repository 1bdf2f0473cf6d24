// ABOUTME: SQLite CRUD for documents, metas and login records
// ABOUTME: Metas are immutable; documents replace per (entity, type)

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/palaver-im/palaver/internal/entity"
)

// GetDocument retrieves one document by entity and type.
// Returns ErrNotFound if no such document exists.
func (s *SQLiteStore) GetDocument(ctx context.Context, id entity.ID, docType string) (*entity.Document, error) {
	query := `
		SELECT did, type, data, signature, time
		FROM documents
		WHERE did = ? AND type = ?
	`
	row := s.db.QueryRowContext(ctx, query, id.String(), docType)
	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents of an entity.
func (s *SQLiteStore) ListDocuments(ctx context.Context, id entity.ID) ([]*entity.Document, error) {
	query := `
		SELECT did, type, data, signature, time
		FROM documents
		WHERE did = ?
		ORDER BY type
	`
	rows, err := s.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}

// SaveDocument inserts or replaces the document for (entity, type).
// Time-based anti-regression is the archive's responsibility.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *entity.Document) error {
	query := `
		INSERT OR REPLACE INTO documents (did, type, data, signature, time)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		doc.ID.String(),
		doc.Type,
		doc.Data,
		doc.Signature,
		formatTime(doc.Time),
	)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	s.logger.Debug("saved document", "did", doc.ID.String(), "type", doc.Type)
	return nil
}

// GetMeta retrieves the meta record of an entity.
// Returns ErrNotFound if none is stored.
func (s *SQLiteStore) GetMeta(ctx context.Context, id entity.ID) (*entity.Meta, error) {
	query := `SELECT mid, type, key, seed, fingerprint FROM metas WHERE mid = ?`

	var meta entity.Meta
	var mid string
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(
		&mid, &meta.Type, &meta.Key, &meta.Seed, &meta.Fingerprint)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying meta: %w", err)
	}

	parsed, err := entity.ParseID(mid)
	if err != nil {
		return nil, fmt.Errorf("parsing meta id: %w", err)
	}
	meta.ID = parsed
	return &meta, nil
}

// InsertMeta stores a meta record. Metas are immutable: inserting a second
// record for the same entity returns ErrDuplicate.
func (s *SQLiteStore) InsertMeta(ctx context.Context, meta *entity.Meta) error {
	query := `
		INSERT INTO metas (mid, type, key, seed, fingerprint)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		meta.ID.String(),
		meta.Type,
		meta.Key,
		meta.Seed,
		meta.Fingerprint,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting meta: %w", err)
	}
	s.logger.Debug("saved meta", "mid", meta.ID.String())
	return nil
}

// GetLogin retrieves the login record of a user.
// Returns ErrNotFound if the user never logged in.
func (s *SQLiteStore) GetLogin(ctx context.Context, user entity.ID) (*entity.LoginRecord, error) {
	query := `SELECT uid, station, time, payload FROM login_records WHERE uid = ?`

	var record entity.LoginRecord
	var uid string
	var loginTime sql.NullString
	err := s.db.QueryRowContext(ctx, query, user.String()).Scan(
		&uid, &record.Station, &loginTime, &record.Payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying login record: %w", err)
	}

	parsed, err := entity.ParseID(uid)
	if err != nil {
		return nil, fmt.Errorf("parsing login uid: %w", err)
	}
	record.User = parsed

	record.Time, err = parseTime(loginTime)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveLogin inserts or replaces the login record of a user.
// Time-based anti-regression is the archive's responsibility.
func (s *SQLiteStore) SaveLogin(ctx context.Context, record *entity.LoginRecord) error {
	query := `
		INSERT OR REPLACE INTO login_records (uid, station, time, payload)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.User.String(),
		record.Station,
		formatTime(record.Time),
		record.Payload,
	)
	if err != nil {
		return fmt.Errorf("saving login record: %w", err)
	}
	s.logger.Debug("saved login record", "uid", record.User.String(), "station", record.Station)
	return nil
}

func scanDocument(scan func(dest ...any) error) (*entity.Document, error) {
	var doc entity.Document
	var did string
	var docTime sql.NullString

	if err := scan(&did, &doc.Type, &doc.Data, &doc.Signature, &docTime); err != nil {
		return nil, err
	}

	id, err := entity.ParseID(did)
	if err != nil {
		return nil, fmt.Errorf("parsing document id: %w", err)
	}
	doc.ID = id

	doc.Time, err = parseTime(docTime)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
