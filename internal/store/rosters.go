// ABOUTME: SQLite CRUD for list-valued rosters: contacts, blocked, muted, members, admins
// ABOUTME: All five share the same two-column shape; listing preserves insertion order

package store

import (
	"context"
	"fmt"

	"github.com/palaver-im/palaver/internal/entity"
)

// rosterTable describes one of the pair tables.
type rosterTable struct {
	name      string
	keyColumn string
	valColumn string
}

var (
	tableContacts = rosterTable{"contacts", "owner", "contact"}
	tableBlocked  = rosterTable{"blocked", "owner", "target"}
	tableMuted    = rosterTable{"muted", "owner", "target"}
	tableMembers  = rosterTable{"members", "gid", "member"}
	tableAdmins   = rosterTable{"admins", "gid", "admin"}
)

func (s *SQLiteStore) listRoster(ctx context.Context, t rosterTable, key entity.ID) ([]entity.ID, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = ? ORDER BY rowid`,
		t.valColumn, t.name, t.keyColumn)

	rows, err := s.db.QueryContext(ctx, query, key.String())
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.name, err)
	}
	defer rows.Close()

	var ids []entity.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", t.name, err)
		}
		id, err := entity.ParseID(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s entry: %w", t.name, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", t.name, err)
	}
	return ids, nil
}

func (s *SQLiteStore) addRosterEntry(ctx context.Context, t rosterTable, key, value entity.ID) error {
	query := fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)`,
		t.name, t.keyColumn, t.valColumn)

	if _, err := s.db.ExecContext(ctx, query, key.String(), value.String()); err != nil {
		return fmt.Errorf("inserting into %s: %w", t.name, err)
	}
	s.logger.Debug("roster entry added", "table", t.name, "key", key.String(), "value", value.String())
	return nil
}

func (s *SQLiteStore) removeRosterEntry(ctx context.Context, t rosterTable, key, value entity.ID) error {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s = ? AND %s = ?`,
		t.name, t.keyColumn, t.valColumn)

	if _, err := s.db.ExecContext(ctx, query, key.String(), value.String()); err != nil {
		return fmt.Errorf("deleting from %s: %w", t.name, err)
	}
	s.logger.Debug("roster entry removed", "table", t.name, "key", key.String(), "value", value.String())
	return nil
}

// ListContacts returns the contact list of a user in insertion order.
func (s *SQLiteStore) ListContacts(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return s.listRoster(ctx, tableContacts, owner)
}

// AddContact adds one contact; adding an existing contact is a no-op.
func (s *SQLiteStore) AddContact(ctx context.Context, owner, contact entity.ID) error {
	return s.addRosterEntry(ctx, tableContacts, owner, contact)
}

// RemoveContact removes one contact; removing a missing contact is a no-op.
func (s *SQLiteStore) RemoveContact(ctx context.Context, owner, contact entity.ID) error {
	return s.removeRosterEntry(ctx, tableContacts, owner, contact)
}

// ListBlocked returns the block list of a user.
func (s *SQLiteStore) ListBlocked(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return s.listRoster(ctx, tableBlocked, owner)
}

// AddBlocked adds one entry to the block list.
func (s *SQLiteStore) AddBlocked(ctx context.Context, owner, target entity.ID) error {
	return s.addRosterEntry(ctx, tableBlocked, owner, target)
}

// RemoveBlocked removes one entry from the block list.
func (s *SQLiteStore) RemoveBlocked(ctx context.Context, owner, target entity.ID) error {
	return s.removeRosterEntry(ctx, tableBlocked, owner, target)
}

// ListMuted returns the mute list of a user.
func (s *SQLiteStore) ListMuted(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return s.listRoster(ctx, tableMuted, owner)
}

// AddMuted adds one entry to the mute list.
func (s *SQLiteStore) AddMuted(ctx context.Context, owner, target entity.ID) error {
	return s.addRosterEntry(ctx, tableMuted, owner, target)
}

// RemoveMuted removes one entry from the mute list.
func (s *SQLiteStore) RemoveMuted(ctx context.Context, owner, target entity.ID) error {
	return s.removeRosterEntry(ctx, tableMuted, owner, target)
}

// ListMembers returns the member roster of a group in insertion order.
func (s *SQLiteStore) ListMembers(ctx context.Context, group entity.ID) ([]entity.ID, error) {
	return s.listRoster(ctx, tableMembers, group)
}

// AddMember adds one member to a group roster.
func (s *SQLiteStore) AddMember(ctx context.Context, group, member entity.ID) error {
	return s.addRosterEntry(ctx, tableMembers, group, member)
}

// RemoveMember removes one member from a group roster.
func (s *SQLiteStore) RemoveMember(ctx context.Context, group, member entity.ID) error {
	return s.removeRosterEntry(ctx, tableMembers, group, member)
}

// ListAdmins returns the admin roster of a group.
func (s *SQLiteStore) ListAdmins(ctx context.Context, group entity.ID) ([]entity.ID, error) {
	return s.listRoster(ctx, tableAdmins, group)
}

// AddAdmin adds one admin to a group roster.
func (s *SQLiteStore) AddAdmin(ctx context.Context, group, admin entity.ID) error {
	return s.addRosterEntry(ctx, tableAdmins, group, admin)
}

// RemoveAdmin removes one admin from a group roster.
func (s *SQLiteStore) RemoveAdmin(ctx context.Context, group, admin entity.ID) error {
	return s.removeRosterEntry(ctx, tableAdmins, group, admin)
}
