// ABOUTME: Cached roster access with differential full-list saves
// ABOUTME: List replacement applies per-entry deltas; first failure aborts, nothing rolls back

package archive

import (
	"context"
	"fmt"

	"github.com/palaver-im/palaver/internal/cachepool"
	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
)

// roster binds one list kind to its pool, store functions and event stream.
type roster struct {
	kind   string
	pool   *cachepool.Pool[entity.ID, []entity.ID]
	add    func(ctx context.Context, owner, target entity.ID) error
	remove func(ctx context.Context, owner, target entity.ID) error
	event  events.Name
}

func (a *Archive) contactsRoster() roster {
	return roster{"contacts", a.contacts, a.store.AddContact, a.store.RemoveContact, events.ContactsUpdated}
}

func (a *Archive) blockedRoster() roster {
	return roster{"blocked", a.blocked, a.store.AddBlocked, a.store.RemoveBlocked, events.BlockListUpdated}
}

func (a *Archive) mutedRoster() roster {
	return roster{"muted", a.muted, a.store.AddMuted, a.store.RemoveMuted, events.MuteListUpdated}
}

func (a *Archive) membersRoster() roster {
	return roster{"members", a.members, a.store.AddMember, a.store.RemoveMember, events.MembersUpdated}
}

func (a *Archive) adminsRoster() roster {
	return roster{"admins", a.admins, a.store.AddAdmin, a.store.RemoveAdmin, events.AdminsUpdated}
}

// GetContacts returns the cached contact list of owner.
func (a *Archive) GetContacts(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return a.contacts.Load(ctx, owner)
}

// GetBlockList returns the cached block list of owner.
func (a *Archive) GetBlockList(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return a.blocked.Load(ctx, owner)
}

// GetMuteList returns the cached mute list of owner.
func (a *Archive) GetMuteList(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return a.muted.Load(ctx, owner)
}

// GetMembers returns the cached member list of group, in roster order.
// The first member is the group owner.
func (a *Archive) GetMembers(ctx context.Context, group entity.ID) ([]entity.ID, error) {
	return a.members.Load(ctx, group)
}

// GetAdmins returns the cached administrator list of group.
func (a *Archive) GetAdmins(ctx context.Context, group entity.ID) ([]entity.ID, error) {
	return a.admins.Load(ctx, group)
}

// SaveContacts replaces the contact list of owner differentially.
func (a *Archive) SaveContacts(ctx context.Context, owner entity.ID, next []entity.ID) error {
	return a.saveRoster(ctx, a.contactsRoster(), owner, next)
}

// SaveBlockList replaces the block list of owner differentially.
func (a *Archive) SaveBlockList(ctx context.Context, owner entity.ID, next []entity.ID) error {
	return a.saveRoster(ctx, a.blockedRoster(), owner, next)
}

// SaveMuteList replaces the mute list of owner differentially.
func (a *Archive) SaveMuteList(ctx context.Context, owner entity.ID, next []entity.ID) error {
	return a.saveRoster(ctx, a.mutedRoster(), owner, next)
}

// SaveMembers replaces the member list of group differentially.
func (a *Archive) SaveMembers(ctx context.Context, group entity.ID, next []entity.ID) error {
	return a.saveRoster(ctx, a.membersRoster(), group, next)
}

// SaveAdmins replaces the administrator list of group differentially.
func (a *Archive) SaveAdmins(ctx context.Context, group entity.ID, next []entity.ID) error {
	return a.saveRoster(ctx, a.adminsRoster(), group, next)
}

// AddBlocked adds one entry to the owner's block list.
func (a *Archive) AddBlocked(ctx context.Context, owner, target entity.ID) error {
	return a.addRosterEntry(ctx, a.blockedRoster(), owner, target)
}

// RemoveBlocked removes one entry from the owner's block list.
func (a *Archive) RemoveBlocked(ctx context.Context, owner, target entity.ID) error {
	return a.removeRosterEntry(ctx, a.blockedRoster(), owner, target)
}

// AddMuted adds one entry to the owner's mute list.
func (a *Archive) AddMuted(ctx context.Context, owner, target entity.ID) error {
	return a.addRosterEntry(ctx, a.mutedRoster(), owner, target)
}

// RemoveMuted removes one entry from the owner's mute list.
func (a *Archive) RemoveMuted(ctx context.Context, owner, target entity.ID) error {
	return a.removeRosterEntry(ctx, a.mutedRoster(), owner, target)
}

// AddContact adds one contact to the owner's roster.
func (a *Archive) AddContact(ctx context.Context, owner, contact entity.ID) error {
	return a.addRosterEntry(ctx, a.contactsRoster(), owner, contact)
}

// RemoveContact removes one contact from the owner's roster.
func (a *Archive) RemoveContact(ctx context.Context, owner, contact entity.ID) error {
	return a.removeRosterEntry(ctx, a.contactsRoster(), owner, contact)
}

// saveRoster applies the delta between the stored list and next: removals
// first, then additions in next's order. The first failing step aborts the
// save; entries already applied stay applied and the cache is dropped so the
// next read reflects the store.
func (a *Archive) saveRoster(ctx context.Context, r roster, owner entity.ID, next []entity.ID) error {
	current, err := r.pool.Load(ctx, owner)
	if err != nil {
		return fmt.Errorf("loading %s: %w", r.kind, err)
	}

	wanted := make(map[entity.ID]bool, len(next))
	for _, id := range next {
		wanted[id] = true
	}
	have := make(map[entity.ID]bool, len(current))
	for _, id := range current {
		have[id] = true
	}

	for _, id := range current {
		if wanted[id] {
			continue
		}
		if err := r.remove(ctx, owner, id); err != nil {
			r.pool.Drop(owner)
			return fmt.Errorf("removing from %s: %w", r.kind, err)
		}
		a.publishRoster(r, events.ActionRemove, owner, id)
	}
	for _, id := range next {
		if have[id] {
			continue
		}
		if err := r.add(ctx, owner, id); err != nil {
			r.pool.Drop(owner)
			return fmt.Errorf("adding to %s: %w", r.kind, err)
		}
		a.publishRoster(r, events.ActionAdd, owner, id)
	}

	r.pool.Put(owner, next)
	a.logger.Debug("saved roster", "kind", r.kind, "owner", owner.String(), "size", len(next))
	return nil
}

func (a *Archive) addRosterEntry(ctx context.Context, r roster, owner, target entity.ID) error {
	current, err := r.pool.Load(ctx, owner)
	if err != nil {
		return fmt.Errorf("loading %s: %w", r.kind, err)
	}
	for _, id := range current {
		if id == target {
			return nil
		}
	}
	if err := r.add(ctx, owner, target); err != nil {
		r.pool.Drop(owner)
		return fmt.Errorf("adding to %s: %w", r.kind, err)
	}
	r.pool.Put(owner, append(current[:len(current):len(current)], target))
	a.publishRoster(r, events.ActionAdd, owner, target)
	return nil
}

func (a *Archive) removeRosterEntry(ctx context.Context, r roster, owner, target entity.ID) error {
	current, err := r.pool.Load(ctx, owner)
	if err != nil {
		return fmt.Errorf("loading %s: %w", r.kind, err)
	}
	found := false
	kept := make([]entity.ID, 0, len(current))
	for _, id := range current {
		if id == target {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	if !found {
		return nil
	}
	if err := r.remove(ctx, owner, target); err != nil {
		r.pool.Drop(owner)
		return fmt.Errorf("removing from %s: %w", r.kind, err)
	}
	r.pool.Put(owner, kept)
	a.publishRoster(r, events.ActionRemove, owner, target)
	return nil
}

func (a *Archive) publishRoster(r roster, action events.Action, owner, target entity.ID) {
	a.bus.Publish(events.Event{
		Name:   r.event,
		Action: action,
		ID:     owner,
		User:   target,
	})
}
