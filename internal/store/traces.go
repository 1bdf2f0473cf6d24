// ABOUTME: SQLite CRUD for receipt trace rows
// ABOUTME: Traces are append-only; rows are never updated

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/palaver-im/palaver/internal/entity"
)

// InsertTrace appends a receipt trace row.
func (s *SQLiteStore) InsertTrace(ctx context.Context, trace *Trace) error {
	query := `
		INSERT INTO traces (id, cid, sender, sn, signature, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		trace.ID,
		trace.CID.String(),
		trace.Sender.String(),
		trace.SN,
		trace.Signature,
		string(trace.Payload),
		formatTime(trace.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting trace: %w", err)
	}

	s.logger.Debug("saved trace",
		"cid", trace.CID.String(),
		"sender", trace.Sender.String(),
		"sn", trace.SN)
	return nil
}

// ListTraces returns every trace recorded for the original message
// identified by (cid, sender, sn), oldest first.
func (s *SQLiteStore) ListTraces(ctx context.Context, cid, sender entity.ID, sn uint64) ([]*Trace, error) {
	query := `
		SELECT id, cid, sender, sn, signature, payload, created_at
		FROM traces
		WHERE cid = ? AND sender = ? AND sn = ?
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, cid.String(), sender.String(), sn)
	if err != nil {
		return nil, fmt.Errorf("querying traces: %w", err)
	}
	defer rows.Close()

	var traces []*Trace
	for rows.Next() {
		var trace Trace
		var cidRaw, senderRaw, payload string
		var createdAt sql.NullString

		if err := rows.Scan(&trace.ID, &cidRaw, &senderRaw, &trace.SN,
			&trace.Signature, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning trace row: %w", err)
		}

		id, err := entity.ParseID(cidRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing trace cid: %w", err)
		}
		trace.CID = id

		id, err = entity.ParseID(senderRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing trace sender: %w", err)
		}
		trace.Sender = id

		trace.Payload = []byte(payload)
		trace.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		traces = append(traces, &trace)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trace rows: %w", err)
	}
	return traces, nil
}
