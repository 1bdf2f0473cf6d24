// ABOUTME: Typed in-process event bus for entity change notifications
// ABOUTME: Per-subscriber buffered channels with drop-on-full, context-scoped lifetime

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/palaver-im/palaver/internal/entity"
)

// Name identifies a notification stream.
type Name string

const (
	ConversationUpdated Name = "conversation_updated"
	MessageUpdated      Name = "message_updated"
	ContactsUpdated     Name = "contacts_updated"
	BlockListUpdated    Name = "block_list_updated"
	MuteListUpdated     Name = "mute_list_updated"
	MembersUpdated      Name = "members_updated"
	AdminsUpdated       Name = "admins_updated"
	DocumentUpdated     Name = "document_updated"
	MetaSaved           Name = "meta_saved"
	MessageTraced       Name = "message_traced"
)

// Action describes what happened to the affected entity.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
	ActionClear  Action = "clear"
)

// Event is the payload delivered to subscribers. ID is the primary affected
// entity (conversation, user or group); the remaining fields are filled per
// event name.
type Event struct {
	Name   Name
	Action Action
	ID     entity.ID

	User entity.ID // secondary entity: contact, member, message sender
	SN   uint64    // message sequence number, when one is involved
	Time time.Time
	Text string // preview or receipt text, when one is involved
}

const subscriberBufferSize = 64

// Bus is the process-wide pub/sub hub the stores broadcast changes on.
// Delivery is in-process only, best effort: a subscriber that falls behind
// its channel buffer loses events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Name]map[string]chan Event
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[Name]map[string]chan Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers for one event name. Returns the delivery channel and a
// subscription ID for explicit Unsubscribe. The subscription is removed
// automatically when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, name Name) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[name]; !ok {
		b.subscribers[name] = make(map[string]chan Event)
	}
	b.subscribers[name][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "event", name, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(name, subID)
	}()

	return ch, subID
}

// Publish delivers the event to every subscriber of its name.
// Non-blocking: full subscriber channels drop the event. The read lock is
// held across the sends; Unsubscribe and Close take the write lock, so no
// channel closes mid-delivery.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[ev.Name] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"event", ev.Name,
				"id", ev.ID.String())
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(name Name, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[name]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, name)
	}

	b.logger.Debug("subscriber removed", "event", name, "sub_id", subID)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, name)
	}

	b.logger.Debug("bus closed")
}
