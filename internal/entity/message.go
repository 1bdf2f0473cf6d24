// ABOUTME: Message envelopes and the instant/reliable message records
// ABOUTME: Includes the signature fragment helper used for fast duplicate checks

package entity

import (
	"encoding/base64"
	"time"
)

// Envelope carries the routing header of a message. Times have second
// resolution on the wire; callers should not rely on sub-second precision.
type Envelope struct {
	Sender   ID
	Receiver ID
	Time     time.Time
}

// InstantMessage is a decoded (plaintext) message ready for ingestion or
// sending. Waiting, if set, marks the entity the message is explicitly
// blocked on; ErrorUser carries a user ID attached by a failed decrypt.
type InstantMessage struct {
	Envelope Envelope
	Content  Content

	Waiting   ID
	ErrorUser ID
}

// Group returns the group the message belongs to, if any.
func (m *InstantMessage) Group() ID {
	if m.Content != nil {
		if g := m.Content.Base().Group; !g.IsZero() {
			return g
		}
	}
	if m.Envelope.Receiver.IsGroup() {
		return m.Envelope.Receiver
	}
	return ID{}
}

// ReliableMessage is a signed, still-encrypted message as received from the
// transport. The engine only inspects its routing fields; Payload stays opaque.
type ReliableMessage struct {
	Envelope  Envelope
	GroupID   ID
	Signature []byte
	Payload   []byte

	Waiting   ID
	ErrorUser ID
}

// Group returns the group the message is addressed to, if any.
func (m *ReliableMessage) Group() ID {
	if !m.GroupID.IsZero() {
		return m.GroupID
	}
	if m.Envelope.Receiver.IsGroup() {
		return m.Envelope.Receiver
	}
	return ID{}
}

// SignatureFragment returns the short tail of a base64-encoded signature,
// enough to discriminate duplicates without storing the full signature.
func SignatureFragment(signature []byte) string {
	if len(signature) == 0 {
		return ""
	}
	encoded := base64.StdEncoding.EncodeToString(signature)
	if len(encoded) > 8 {
		return encoded[len(encoded)-8:]
	}
	return encoded
}
