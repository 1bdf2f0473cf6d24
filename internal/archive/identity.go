// ABOUTME: Cached access to identity-side records: documents, metas, logins, keys
// ABOUTME: Documents and logins carry declared times; older versions are rejected as stale

package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
	"github.com/palaver-im/palaver/internal/store"
)

// GetDocument returns the entity's document of the given type.
// Returns store.ErrNotFound if none is stored.
func (a *Archive) GetDocument(ctx context.Context, id entity.ID, docType string) (*entity.Document, error) {
	doc, err := a.documents.Load(ctx, docKey{ID: id, Type: docType})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

// SaveDocument stores a document unless the stored version carries a strictly
// newer declared time, in which case ErrStale is returned. Equal times replace
// in place so a re-signed document with the same clock wins.
func (a *Archive) SaveDocument(ctx context.Context, doc *entity.Document) error {
	key := docKey{ID: doc.ID, Type: doc.Type}
	existing, err := a.documents.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	if existing != nil && doc.Time.Before(existing.Time) {
		a.logger.Debug("rejected stale document",
			"id", doc.ID.String(),
			"type", doc.Type)
		return ErrStale
	}

	if err := a.store.SaveDocument(ctx, doc); err != nil {
		a.documents.Drop(key)
		return fmt.Errorf("saving document: %w", err)
	}
	a.documents.Put(key, doc)
	a.bus.Publish(events.Event{
		Name:   events.DocumentUpdated,
		Action: events.ActionUpdate,
		ID:     doc.ID,
		Time:   doc.Time,
		Text:   doc.Type,
	})
	return nil
}

// GetMeta returns the immutable identity record of id.
// Returns store.ErrNotFound if none is stored.
func (a *Archive) GetMeta(ctx context.Context, id entity.ID) (*entity.Meta, error) {
	meta, err := a.metas.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, store.ErrNotFound
	}
	return meta, nil
}

// SaveMeta stores an identity record. Metas are immutable: a second save for
// the same ID is a no-op and publishes nothing.
func (a *Archive) SaveMeta(ctx context.Context, meta *entity.Meta) error {
	err := a.store.InsertMeta(ctx, meta)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("saving meta: %w", err)
	}
	a.metas.Put(meta.ID, meta)
	a.bus.Publish(events.Event{
		Name:   events.MetaSaved,
		Action: events.ActionAdd,
		ID:     meta.ID,
	})
	return nil
}

// GetLogin returns the last known login record of user.
// Returns store.ErrNotFound if none is stored.
func (a *Archive) GetLogin(ctx context.Context, user entity.ID) (*entity.LoginRecord, error) {
	record, err := a.logins.Load(ctx, user)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, store.ErrNotFound
	}
	return record, nil
}

// SaveLogin stores a login record unless the stored one is strictly newer.
func (a *Archive) SaveLogin(ctx context.Context, record *entity.LoginRecord) error {
	existing, err := a.logins.Load(ctx, record.User)
	if err != nil {
		return fmt.Errorf("loading login: %w", err)
	}
	if existing != nil && record.Time.Before(existing.Time) {
		return ErrStale
	}

	if err := a.store.SaveLogin(ctx, record); err != nil {
		a.logins.Drop(record.User)
		return fmt.Errorf("saving login: %w", err)
	}
	a.logins.Put(record.User, record)
	return nil
}

// SavePrivateKey stores a key blob; see store.Store for replacement rules.
func (a *Archive) SavePrivateKey(ctx context.Context, key *entity.PrivateKey) error {
	return a.store.SavePrivateKey(ctx, key)
}

// GetPrivateKey returns the newest key of keyType for user.
func (a *Archive) GetPrivateKey(ctx context.Context, user entity.ID, keyType string) (*entity.PrivateKey, error) {
	return a.store.GetPrivateKey(ctx, user, keyType)
}

// ListDecryptKeys returns every key usable for decryption, newest first.
func (a *Archive) ListDecryptKeys(ctx context.Context, user entity.ID) ([]*entity.PrivateKey, error) {
	return a.store.ListDecryptKeys(ctx, user)
}
