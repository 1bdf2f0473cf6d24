// ABOUTME: Identity-side records attached to entities: documents, metas, logins, keys
// ABOUTME: These carry declared times used by the stores' anti-regression checks

package entity

import "time"

// Document type tags. A user carries a profile; a group carries a bulletin.
const (
	DocProfile  = "profile"
	DocBulletin = "bulletin"
)

// Document is a signed, versioned property sheet for an entity.
// Time is the declared signing time; a store rejects older documents.
type Document struct {
	ID        ID
	Type      string
	Data      string // JSON properties as signed
	Signature string
	Time      time.Time
}

// Meta is the immutable identity record binding an ID to its public key.
type Meta struct {
	ID          ID
	Type        int
	Key         string
	Seed        string
	Fingerprint string
}

// LoginRecord remembers the station a user last logged in through.
type LoginRecord struct {
	User    ID
	Station string
	Time    time.Time
	Payload []byte
}

// Private key type tags.
const (
	KeyTypeMeta = "meta" // identity key, one per user
	KeyTypeMsg  = "msg"  // message decrypt keys, newest first
)

// PrivateKey is an opaque stored key blob; the engine never interprets it.
type PrivateKey struct {
	User    ID
	Type    string
	Data    []byte
	Created time.Time
}
