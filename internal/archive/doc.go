// Package archive layers policy over the raw store: keyed read-through
// caching, change notifications on the event bus, differential roster saves
// and staleness gates for timestamped records.
//
// The archive is the only intended consumer of store.Store. Higher layers
// (conversation service, shield, vestibule, identity book) go through the
// archive so every read benefits from the cache pools and every write
// produces exactly one change event.
//
// Staleness: messages, documents and login records carry declared times. A
// save whose time is strictly older than the stored version returns ErrStale
// and leaves the stored record untouched. Metas are immutable; a repeated
// save is a silent no-op.
package archive
