// ABOUTME: Archive wraps the raw store with caching, change events and staleness gates
// ABOUTME: Conversation and message operations live here; rosters and identity records in siblings

package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/palaver-im/palaver/internal/cachepool"
	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
	"github.com/palaver-im/palaver/internal/store"
)

// ErrStale is returned when a save carries an older timestamp than the record
// already held. The caller should keep what it has.
var ErrStale = errors.New("record is older than stored version")

type docKey struct {
	ID   entity.ID
	Type string
}

// Archive is the caching facade over the raw store. Every read goes through a
// keyed cache pool; every successful write refreshes the pool and publishes a
// change event on the bus.
type Archive struct {
	store  store.Store
	bus    *events.Bus
	logger *slog.Logger

	conversations *cachepool.Pool[entity.ID, *store.Conversation]
	contacts      *cachepool.Pool[entity.ID, []entity.ID]
	blocked       *cachepool.Pool[entity.ID, []entity.ID]
	muted         *cachepool.Pool[entity.ID, []entity.ID]
	members       *cachepool.Pool[entity.ID, []entity.ID]
	admins        *cachepool.Pool[entity.ID, []entity.ID]
	documents     *cachepool.Pool[docKey, *entity.Document]
	metas         *cachepool.Pool[entity.ID, *entity.Meta]
	logins        *cachepool.Pool[entity.ID, *entity.LoginRecord]
}

// New creates an archive over st. ttl bounds how long cached entries stay
// live; grace is the stale-entry extension during refresh (see cachepool).
func New(st store.Store, bus *events.Bus, logger *slog.Logger, ttl, grace time.Duration) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archive{
		store:  st,
		bus:    bus,
		logger: logger.With("component", "archive"),
	}

	a.conversations = cachepool.New(ttl, grace,
		func(ctx context.Context, id entity.ID) (*store.Conversation, error) {
			c, err := st.GetConversation(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return c, err
		},
		func(ctx context.Context, _ entity.ID, c *store.Conversation) error {
			return a.writeConversation(ctx, c)
		})
	a.contacts = rosterPool(ttl, grace, st.ListContacts)
	a.blocked = rosterPool(ttl, grace, st.ListBlocked)
	a.muted = rosterPool(ttl, grace, st.ListMuted)
	a.members = rosterPool(ttl, grace, st.ListMembers)
	a.admins = rosterPool(ttl, grace, st.ListAdmins)
	a.documents = cachepool.New(ttl, grace,
		func(ctx context.Context, key docKey) (*entity.Document, error) {
			doc, err := st.GetDocument(ctx, key.ID, key.Type)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return doc, err
		}, nil)
	a.metas = cachepool.New(ttl, grace,
		func(ctx context.Context, id entity.ID) (*entity.Meta, error) {
			meta, err := st.GetMeta(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return meta, err
		}, nil)
	a.logins = cachepool.New(ttl, grace,
		func(ctx context.Context, id entity.ID) (*entity.LoginRecord, error) {
			record, err := st.GetLogin(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return record, err
		}, nil)

	return a
}

func rosterPool(ttl, grace time.Duration, list func(context.Context, entity.ID) ([]entity.ID, error)) *cachepool.Pool[entity.ID, []entity.ID] {
	return cachepool.New(ttl, grace,
		func(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
			return list(ctx, owner)
		}, nil)
}

// Purge drops every expired cache entry across all pools.
func (a *Archive) Purge() {
	dropped := a.conversations.Purge() + a.contacts.Purge() + a.blocked.Purge() +
		a.muted.Purge() + a.members.Purge() + a.admins.Purge() +
		a.documents.Purge() + a.metas.Purge() + a.logins.Purge()
	if dropped > 0 {
		a.logger.Debug("purged expired cache entries", "count", dropped)
	}
}

// cloneConversation copies the flat record so cached entries never share a
// pointer with callers.
func cloneConversation(c *store.Conversation) *store.Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// GetConversation returns the aggregate record for one chat. The result is a
// copy; mutating it does not touch the cache.
// Returns store.ErrNotFound if no conversation exists for id.
func (a *Archive) GetConversation(ctx context.Context, id entity.ID) (*store.Conversation, error) {
	c, err := a.conversations.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, store.ErrNotFound
	}
	return cloneConversation(c), nil
}

// ListConversations returns every conversation, most recent activity first,
// and folds the rows into the cache.
func (a *Archive) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	list, err := a.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		a.conversations.Put(c.ID, cloneConversation(c))
	}
	return list, nil
}

// SaveConversation upserts the aggregate record and publishes a
// conversation_updated event. The write goes through the cache pool's
// write-through path, so the backing write and the cache refresh happen under
// one lock; the pool keeps its own copy of c.
func (a *Archive) SaveConversation(ctx context.Context, c *store.Conversation) error {
	if err := a.conversations.Save(ctx, c.ID, cloneConversation(c)); err != nil {
		a.conversations.Drop(c.ID)
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

// writeConversation is the pool write func: update-then-insert upsert with
// the matching change event.
func (a *Archive) writeConversation(ctx context.Context, c *store.Conversation) error {
	action := events.ActionUpdate
	err := a.store.UpdateConversation(ctx, c)
	if errors.Is(err, store.ErrNotFound) {
		action = events.ActionAdd
		err = a.store.InsertConversation(ctx, c)
	}
	if err != nil {
		return err
	}
	a.bus.Publish(events.Event{
		Name:   events.ConversationUpdated,
		Action: action,
		ID:     c.ID,
		Time:   c.LastTime,
		Text:   c.Preview,
	})
	return nil
}

// RemoveConversation deletes the conversation record and every message in it.
// Missing records are tolerated; the caches are dropped either way.
func (a *Archive) RemoveConversation(ctx context.Context, id entity.ID) error {
	deleted, err := a.store.ClearMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	if err := a.store.DeleteConversation(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	a.conversations.Drop(id)

	a.logger.Info("removed conversation", "cid", id.String(), "messages", deleted)
	a.bus.Publish(events.Event{Name: events.MessageUpdated, Action: events.ActionClear, ID: id})
	a.bus.Publish(events.Event{Name: events.ConversationUpdated, Action: events.ActionRemove, ID: id})
	return nil
}

// SaveMessage upserts one instant message under (cid, sender, sn). A message
// whose time is strictly older than the stored row is rejected with ErrStale.
// Attachment bytes never reach the payload; the codec drops them.
// Returns true when the message was new to the conversation.
func (a *Archive) SaveMessage(ctx context.Context, cid entity.ID, msg *entity.InstantMessage, signature string) (bool, error) {
	base := msg.Content.Base()
	payload, err := entity.EncodeMessage(msg)
	if err != nil {
		return false, fmt.Errorf("encoding message: %w", err)
	}
	row := &store.Message{
		CID:       cid,
		Sender:    msg.Envelope.Sender,
		SN:        base.SN,
		Time:      base.Time,
		Type:      base.Type,
		Signature: signature,
		Payload:   payload,
	}

	existing, err := a.store.GetMessage(ctx, cid, row.Sender, row.SN)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := a.store.InsertMessage(ctx, row); err != nil {
			return false, fmt.Errorf("inserting message: %w", err)
		}
		a.publishMessage(events.ActionAdd, row)
		return true, nil
	case err != nil:
		return false, fmt.Errorf("checking message: %w", err)
	}

	if row.Time.Before(existing.Time) {
		a.logger.Debug("rejected stale message",
			"cid", cid.String(),
			"sender", row.Sender.String(),
			"sn", row.SN)
		return false, ErrStale
	}
	if err := a.store.UpdateMessage(ctx, row); err != nil {
		return false, fmt.Errorf("updating message: %w", err)
	}
	a.publishMessage(events.ActionUpdate, row)
	return false, nil
}

func (a *Archive) publishMessage(action events.Action, row *store.Message) {
	a.bus.Publish(events.Event{
		Name:   events.MessageUpdated,
		Action: action,
		ID:     row.CID,
		User:   row.Sender,
		SN:     row.SN,
		Time:   row.Time,
	})
}

// GetMessage returns one stored message row.
func (a *Archive) GetMessage(ctx context.Context, cid, sender entity.ID, sn uint64) (*store.Message, error) {
	return a.store.GetMessage(ctx, cid, sender, sn)
}

// ListMessages returns up to limit most recent messages of the conversation
// in chronological order; limit <= 0 means all.
func (a *Archive) ListMessages(ctx context.Context, cid entity.ID, limit int) ([]*store.Message, error) {
	return a.store.ListMessages(ctx, cid, limit)
}

// SweepMessagesBefore deletes every message older than cutoff across all
// conversations. Used by the burn-after-reading sweep.
func (a *Archive) SweepMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := a.store.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping messages: %w", err)
	}
	if deleted > 0 {
		a.logger.Info("swept expired messages", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
