// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Schema is created on open; migrations are idempotent

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			cid        TEXT PRIMARY KEY,
			unread     INTEGER NOT NULL DEFAULT 0,
			preview    TEXT NOT NULL DEFAULT '',
			last_time  TEXT,
			mention_sn INTEGER NOT NULL DEFAULT 0,

			CHECK (unread >= 0)
		);

		CREATE TABLE IF NOT EXISTS messages (
			cid       TEXT NOT NULL,
			sender    TEXT NOT NULL,
			sn        INTEGER NOT NULL,
			time      TEXT NOT NULL,
			type      INTEGER NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			payload   TEXT NOT NULL,

			PRIMARY KEY (cid, sender, sn)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_cid_time ON messages(cid, time);

		CREATE TABLE IF NOT EXISTS contacts (
			owner   TEXT NOT NULL,
			contact TEXT NOT NULL,
			PRIMARY KEY (owner, contact)
		);

		CREATE TABLE IF NOT EXISTS blocked (
			owner  TEXT NOT NULL,
			target TEXT NOT NULL,
			PRIMARY KEY (owner, target)
		);

		CREATE TABLE IF NOT EXISTS muted (
			owner  TEXT NOT NULL,
			target TEXT NOT NULL,
			PRIMARY KEY (owner, target)
		);

		CREATE TABLE IF NOT EXISTS members (
			gid    TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (gid, member)
		);

		CREATE TABLE IF NOT EXISTS admins (
			gid   TEXT NOT NULL,
			admin TEXT NOT NULL,
			PRIMARY KEY (gid, admin)
		);

		CREATE TABLE IF NOT EXISTS documents (
			did       TEXT NOT NULL,
			type      TEXT NOT NULL,
			data      TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			time      TEXT NOT NULL,

			PRIMARY KEY (did, type)
		);

		CREATE TABLE IF NOT EXISTS metas (
			mid         TEXT PRIMARY KEY,
			type        INTEGER NOT NULL,
			key         TEXT NOT NULL,
			seed        TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS login_records (
			uid     TEXT PRIMARY KEY,
			station TEXT NOT NULL DEFAULT '',
			time    TEXT NOT NULL,
			payload BLOB
		);

		CREATE TABLE IF NOT EXISTS private_keys (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			uid        TEXT NOT NULL,
			type       TEXT NOT NULL,
			key        BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_private_keys_uid ON private_keys(uid, type);

		CREATE TABLE IF NOT EXISTS traces (
			id         TEXT PRIMARY KEY,
			cid        TEXT NOT NULL,
			sender     TEXT NOT NULL,
			sn         INTEGER NOT NULL,
			signature  TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_traces_origin ON traces(cid, sender, sn);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
		table  string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('conversations') WHERE name = 'mention_sn'`,
			apply:  `ALTER TABLE conversations ADD COLUMN mention_sn INTEGER NOT NULL DEFAULT 0`,
			column: "mention_sn",
			table:  "conversations",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'signature'`,
			apply:  `ALTER TABLE messages ADD COLUMN signature TEXT NOT NULL DEFAULT ''`,
			column: "signature",
			table:  "messages",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// formatTime renders a timestamp for a TEXT column; zero times become NULL.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a nullable TEXT timestamp column.
func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t.Local(), nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
