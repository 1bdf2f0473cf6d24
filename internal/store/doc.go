// Package store provides raw persistence for the engine using SQLite.
//
// # Architecture
//
// The Store interface covers one logical table per entity kind:
//
//   - conversations: aggregate record per chat (unread, preview, mention)
//   - messages: instant messages keyed by (conversation, sender, sn)
//   - contacts / blocked / muted: per-user rosters
//   - members / admins: per-group rosters
//   - documents / metas / login_records: identity-side records
//   - private_keys: opaque key blobs
//   - traces: receipt correlation rows
//
// SQLiteStore implements the whole interface in a single struct; MockStore
// is the in-memory equivalent for tests.
//
// This layer is deliberately dumb: no caching, no change notifications, no
// anti-regression checks. Those policies live in the archive package, which
// is the only intended consumer.
package store
