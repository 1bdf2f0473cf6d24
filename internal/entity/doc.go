// Package entity defines the identifiers, message records and the closed
// content variant set the synchronization engine operates on.
//
// # IDs
//
// An ID names a user or a group ("user:alice", "group:dev"). The zero ID
// means "no entity" and is used for optional references (waiting markers,
// error-carried users, content group fields).
//
// # Messages
//
// InstantMessage is a decoded message (envelope + content) ready for
// ingestion; ReliableMessage is the signed transport form whose payload the
// engine treats as opaque. SignatureFragment derives the short signature
// tail stored with each message row for fast duplicate checks.
//
// # Content
//
// Content is a closed sum over the known payload kinds: text, attachments
// (file/image/audio/video), pages, customized application content, generic
// commands, group-lifecycle commands, receipts, forwarded/array envelopes.
// Anything else decodes to UnsupportedContent carrying the raw map, so
// future kinds round-trip without loss.
package entity
