// Package events provides the typed in-process notification bus.
//
// Stores publish a named Event after every successful mutation
// (conversation_updated, contacts_updated, document_updated, ...), carrying
// the action kind (add/update/remove/clear) and the affected identifiers.
// Consumers subscribe per event name and receive on a buffered channel;
// subscriptions are scoped to a context and cleaned up on cancellation.
//
// Delivery is best effort and in-process only: no persistence, no ordering
// guarantee beyond publish order, and slow subscribers lose events rather
// than blocking publishers.
package events
