// Package cachepool provides the generic read-through cache every
// persistence-backed entity store is fronted by.
//
// A Pool maps keys to values with a liveness window (TTL) and a shorter
// refresh grace window. Load is a fast-path read under a shared lock; on a
// miss it takes the pool lock, re-checks, and only then issues the backing
// read, so concurrent callers never duplicate a database load for the same
// key. Empty results are cached as live entries (negative caching) and
// short-circuit further reads until they expire.
//
// Save is write-through: the backing write happens first, and the cache entry
// is refreshed only on success.
package cachepool
