// ABOUTME: Store interface and row types for engine persistence
// ABOUTME: One logical table per entity kind, keyed by natural identifiers

package store

import (
	"context"
	"errors"
	"time"

	"github.com/palaver-im/palaver/internal/entity"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits an existing primary key.
var ErrDuplicate = errors.New("already exists")

// Conversation is the persisted aggregate record of one chat thread.
// MentionSN is the sequence number of the last message mentioning the local
// user; 0 means no pending mention.
type Conversation struct {
	ID        entity.ID
	Unread    int
	Preview   string
	LastTime  time.Time
	MentionSN uint64
}

// Message is a persisted instant message. The tuple (CID, Sender, SN) is
// unique; Payload holds the serialized envelope+content JSON with attachment
// bytes already stripped.
type Message struct {
	CID       entity.ID
	Sender    entity.ID
	SN        uint64
	Time      time.Time
	Type      entity.ContentType
	Signature string
	Payload   []byte
}

// Trace correlates a delivery/read receipt back to its original message.
type Trace struct {
	ID        string
	CID       entity.ID
	Sender    entity.ID
	SN        uint64
	Signature string
	Payload   []byte
	CreatedAt time.Time
}

// Store defines the raw persistence operations the archive layer builds on.
// Implementations do not cache, notify, or apply anti-regression rules; that
// is the archive's job.
type Store interface {
	// Conversations
	GetConversation(ctx context.Context, id entity.ID) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	InsertConversation(ctx context.Context, c *Conversation) error
	UpdateConversation(ctx context.Context, c *Conversation) error
	DeleteConversation(ctx context.Context, id entity.ID) error

	// Messages
	GetMessage(ctx context.Context, cid, sender entity.ID, sn uint64) (*Message, error)
	InsertMessage(ctx context.Context, msg *Message) error
	UpdateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, cid entity.ID, limit int) ([]*Message, error)
	DeleteMessage(ctx context.Context, cid, sender entity.ID, sn uint64) error
	ClearMessages(ctx context.Context, cid entity.ID) (int64, error)
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Rosters (listing order preserves insertion order)
	ListContacts(ctx context.Context, owner entity.ID) ([]entity.ID, error)
	AddContact(ctx context.Context, owner, contact entity.ID) error
	RemoveContact(ctx context.Context, owner, contact entity.ID) error

	ListBlocked(ctx context.Context, owner entity.ID) ([]entity.ID, error)
	AddBlocked(ctx context.Context, owner, target entity.ID) error
	RemoveBlocked(ctx context.Context, owner, target entity.ID) error

	ListMuted(ctx context.Context, owner entity.ID) ([]entity.ID, error)
	AddMuted(ctx context.Context, owner, target entity.ID) error
	RemoveMuted(ctx context.Context, owner, target entity.ID) error

	ListMembers(ctx context.Context, group entity.ID) ([]entity.ID, error)
	AddMember(ctx context.Context, group, member entity.ID) error
	RemoveMember(ctx context.Context, group, member entity.ID) error

	ListAdmins(ctx context.Context, group entity.ID) ([]entity.ID, error)
	AddAdmin(ctx context.Context, group, admin entity.ID) error
	RemoveAdmin(ctx context.Context, group, admin entity.ID) error

	// Documents, metas, login records
	GetDocument(ctx context.Context, id entity.ID, docType string) (*entity.Document, error)
	ListDocuments(ctx context.Context, id entity.ID) ([]*entity.Document, error)
	SaveDocument(ctx context.Context, doc *entity.Document) error
	GetMeta(ctx context.Context, id entity.ID) (*entity.Meta, error)
	InsertMeta(ctx context.Context, meta *entity.Meta) error
	GetLogin(ctx context.Context, user entity.ID) (*entity.LoginRecord, error)
	SaveLogin(ctx context.Context, record *entity.LoginRecord) error

	// Private keys
	SavePrivateKey(ctx context.Context, key *entity.PrivateKey) error
	GetPrivateKey(ctx context.Context, user entity.ID, keyType string) (*entity.PrivateKey, error)
	ListDecryptKeys(ctx context.Context, user entity.ID) ([]*entity.PrivateKey, error)

	// Receipt traces
	InsertTrace(ctx context.Context, trace *Trace) error
	ListTraces(ctx context.Context, cid, sender entity.ID, sn uint64) ([]*Trace, error)

	// Close releases any resources held by the store
	Close() error
}
