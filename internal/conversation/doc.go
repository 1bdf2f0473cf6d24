// Package conversation is the ingestion core of the engine: it classifies
// decoded messages, persists them through the archive, and keeps each
// conversation's aggregate record (unread count, preview text, mention
// serial) consistent with the messages it owns.
//
// Ordering contract: the message row is always persisted before the
// conversation aggregate is touched. A message that fails to persist never
// moves the aggregate; a message older than the aggregate's recorded last
// time leaves it untouched.
//
// The service consults the shield before any aggregate mutation and defers
// name resolution to the identity layer. Receipts never become message rows;
// they are correlated to their original message as trace records.
package conversation
