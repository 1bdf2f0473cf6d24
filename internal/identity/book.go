// ABOUTME: Identity resolution over archived documents, metas and rosters
// ABOUTME: Names come from profile documents; readiness from metas and bulletins

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/store"
)

// Archive is the slice of the archive layer the book needs.
type Archive interface {
	GetDocument(ctx context.Context, id entity.ID, docType string) (*entity.Document, error)
	GetMeta(ctx context.Context, id entity.ID) (*entity.Meta, error)
	GetMembers(ctx context.Context, group entity.ID) ([]entity.ID, error)
	GetContacts(ctx context.Context, owner entity.ID) ([]entity.ID, error)
}

// Book resolves display names and entity readiness from archived records.
type Book struct {
	archive Archive
	logger  *slog.Logger
}

// NewBook creates a book over the archive.
func NewBook(a Archive, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		archive: a,
		logger:  logger.With("component", "identity"),
	}
}

// Name returns the display name of an entity: the "name" property of its
// profile (or bulletin, for groups), falling back to the raw identifier.
func (b *Book) Name(ctx context.Context, id entity.ID) string {
	docType := entity.DocProfile
	if id.IsGroup() {
		docType = entity.DocBulletin
	}
	doc, err := b.archive.GetDocument(ctx, id, docType)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			b.logger.Warn("name lookup failed", "id", id.String(), "error", err)
		}
		return id.Name
	}
	if name := documentProperty(doc, "name"); name != "" {
		return name
	}
	return id.Name
}

// HasEncryptionKey reports whether the user's public key is resolvable, which
// requires their meta record.
func (b *Book) HasEncryptionKey(ctx context.Context, user entity.ID) bool {
	meta, err := b.archive.GetMeta(ctx, user)
	if err != nil {
		return false
	}
	return meta.Key != ""
}

// GetBulletin returns the group's bulletin document, or nil if none is known.
func (b *Book) GetBulletin(ctx context.Context, group entity.ID) (*entity.Document, error) {
	doc, err := b.archive.GetDocument(ctx, group, entity.DocBulletin)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

// GetOwner returns the group owner: the bulletin's "owner" property when
// present, else the first roster member.
func (b *Book) GetOwner(ctx context.Context, group entity.ID) (entity.ID, error) {
	doc, err := b.GetBulletin(ctx, group)
	if err != nil {
		return entity.ID{}, err
	}
	if doc != nil {
		if raw := documentProperty(doc, "owner"); raw != "" {
			owner, err := entity.ParseID(raw)
			if err == nil {
				return owner, nil
			}
			b.logger.Warn("bulletin carries unparsable owner",
				"group", group.String(),
				"owner", raw)
		}
	}
	members, err := b.archive.GetMembers(ctx, group)
	if err != nil || len(members) == 0 {
		return entity.ID{}, err
	}
	return members[0], nil
}

// GetMembers returns the group roster in order; the first member is the owner.
func (b *Book) GetMembers(ctx context.Context, group entity.ID) ([]entity.ID, error) {
	return b.archive.GetMembers(ctx, group)
}

// GetContacts returns the user's contact roster.
func (b *Book) GetContacts(ctx context.Context, user entity.ID) ([]entity.ID, error) {
	return b.archive.GetContacts(ctx, user)
}

// documentProperty extracts one string property from a document's signed
// JSON data. Malformed data yields the empty string.
func documentProperty(doc *entity.Document, key string) string {
	if doc == nil || doc.Data == "" {
		return ""
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(doc.Data), &props); err != nil {
		return ""
	}
	value, _ := props[key].(string)
	return value
}
