// Package identity reads names, keys and group facts out of stored documents.
//
// The Book resolves display names from profile and bulletin documents,
// reports encryption-key readiness from metas, and finds a group's owner from
// its bulletin with the member roster as fallback.
package identity
