// ABOUTME: Deferred-delivery buffer for messages blocked on missing keys or rosters
// ABOUTME: Buffers per waiting id; a readiness event triggers exactly one replay attempt

package vestibule

import (
	"context"
	"log/slog"
	"sync"

	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
)

// Messenger is the transport the vestibule replays buffered messages through.
type Messenger interface {
	SendInstantMessage(ctx context.Context, msg *entity.InstantMessage) error
	SendReliableMessage(ctx context.Context, msg *entity.ReliableMessage) error
	ProcessReliableMessage(ctx context.Context, msg *entity.ReliableMessage) ([]*entity.ReliableMessage, error)
}

// Resolver answers readiness questions for waiting identifiers.
type Resolver interface {
	HasEncryptionKey(ctx context.Context, user entity.ID) bool
	GetBulletin(ctx context.Context, group entity.ID) (*entity.Document, error)
	GetOwner(ctx context.Context, group entity.ID) (entity.ID, error)
	GetMembers(ctx context.Context, group entity.ID) ([]entity.ID, error)
}

// Vestibule holds messages that cannot be processed yet and replays them when
// the entity they wait on becomes ready. Inbound (still-encrypted reliable)
// and outbound (decoded instant) messages are buffered separately.
type Vestibule struct {
	messenger Messenger
	resolver  Resolver
	bus       *events.Bus
	logger    *slog.Logger

	mu       sync.Mutex
	inbound  map[entity.ID][]*entity.ReliableMessage
	outbound map[entity.ID][]*entity.InstantMessage
}

// New creates an empty vestibule.
func New(messenger Messenger, resolver Resolver, bus *events.Bus, logger *slog.Logger) *Vestibule {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vestibule{
		messenger: messenger,
		resolver:  resolver,
		bus:       bus,
		logger:    logger.With("component", "vestibule"),
		inbound:   make(map[entity.ID][]*entity.ReliableMessage),
		outbound:  make(map[entity.ID][]*entity.InstantMessage),
	}
}

// SuspendReliableMessage buffers an inbound message that cannot be decrypted
// yet. Returns the waiting id it was filed under, or a zero id if none could
// be derived (the message is dropped in that case).
func (v *Vestibule) SuspendReliableMessage(msg *entity.ReliableMessage) entity.ID {
	waiting := msg.Waiting
	if !waiting.IsZero() {
		// The marker's job is done once the message is filed.
		msg.Waiting = entity.ID{}
	} else if !msg.ErrorUser.IsZero() {
		waiting = msg.ErrorUser
	} else if g := msg.Group(); !g.IsZero() {
		waiting = g
	} else {
		waiting = msg.Envelope.Sender
	}
	if waiting.IsZero() {
		v.logger.Warn("dropping inbound message with no waiting id")
		return entity.ID{}
	}

	v.mu.Lock()
	v.inbound[waiting] = append(v.inbound[waiting], msg)
	count := len(v.inbound[waiting])
	v.mu.Unlock()

	v.logger.Debug("suspended inbound message",
		"waiting", waiting.String(),
		"buffered", count)
	return waiting
}

// SuspendInstantMessage buffers an outbound message that cannot be sent yet.
// Returns the waiting id, or a zero id if none could be derived.
func (v *Vestibule) SuspendInstantMessage(msg *entity.InstantMessage) entity.ID {
	waiting := msg.Waiting
	if !waiting.IsZero() {
		msg.Waiting = entity.ID{}
	} else if !msg.ErrorUser.IsZero() {
		waiting = msg.ErrorUser
	} else if g := msg.Group(); !g.IsZero() {
		waiting = g
	} else {
		waiting = msg.Envelope.Receiver
	}
	if waiting.IsZero() {
		v.logger.Warn("dropping outbound message with no waiting id")
		return entity.ID{}
	}

	v.mu.Lock()
	v.outbound[waiting] = append(v.outbound[waiting], msg)
	count := len(v.outbound[waiting])
	v.mu.Unlock()

	v.logger.Debug("suspended outbound message",
		"waiting", waiting.String(),
		"buffered", count)
	return waiting
}

// Pending returns how many messages are buffered under the waiting id.
func (v *Vestibule) Pending(id entity.ID) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.inbound[id]) + len(v.outbound[id])
}

// Ready reports whether the entity's prerequisites are resolvable: an
// encryption key for a user; bulletin, owner and a non-empty member list for
// a group.
func (v *Vestibule) Ready(ctx context.Context, id entity.ID) bool {
	if !id.IsGroup() {
		return v.resolver.HasEncryptionKey(ctx, id)
	}
	if doc, err := v.resolver.GetBulletin(ctx, id); err != nil || doc == nil {
		return false
	}
	if owner, err := v.resolver.GetOwner(ctx, id); err != nil || owner.IsZero() {
		return false
	}
	members, err := v.resolver.GetMembers(ctx, id)
	return err == nil && len(members) > 0
}

// ResumeMessages drains both buffers for the waiting id and replays each
// message once, in buffered order. The buffers are emptied before any replay
// starts, so a failing message neither blocks the rest nor gets re-buffered
// by this call.
func (v *Vestibule) ResumeMessages(ctx context.Context, id entity.ID) {
	v.mu.Lock()
	outbound := v.outbound[id]
	inbound := v.inbound[id]
	delete(v.outbound, id)
	delete(v.inbound, id)
	v.mu.Unlock()

	if len(outbound) == 0 && len(inbound) == 0 {
		return
	}
	v.logger.Info("replaying buffered messages",
		"waiting", id.String(),
		"outbound", len(outbound),
		"inbound", len(inbound))

	for _, msg := range outbound {
		if err := v.messenger.SendInstantMessage(ctx, msg); err != nil {
			v.logger.Error("replay send failed",
				"receiver", msg.Envelope.Receiver.String(),
				"error", err)
		}
	}
	for _, msg := range inbound {
		responses, err := v.messenger.ProcessReliableMessage(ctx, msg)
		if err != nil {
			v.logger.Error("replay process failed",
				"sender", msg.Envelope.Sender.String(),
				"error", err)
			continue
		}
		for _, response := range responses {
			if err := v.messenger.SendReliableMessage(ctx, response); err != nil {
				v.logger.Error("replay response send failed", "error", err)
			}
		}
	}
}

// Run watches the bus for readiness signals (meta saved, document updated,
// members updated) and replays buffered messages for entities that became
// ready. Blocks until ctx is cancelled.
func (v *Vestibule) Run(ctx context.Context) {
	metaCh, _ := v.bus.Subscribe(ctx, events.MetaSaved)
	docCh, _ := v.bus.Subscribe(ctx, events.DocumentUpdated)
	membersCh, _ := v.bus.Subscribe(ctx, events.MembersUpdated)

	v.logger.Info("vestibule watching for readiness events")
	for {
		var ev events.Event
		var ok bool
		select {
		case <-ctx.Done():
			return
		case ev, ok = <-metaCh:
		case ev, ok = <-docCh:
		case ev, ok = <-membersCh:
		}
		if !ok {
			return
		}
		v.onReadinessSignal(ctx, ev.ID)
	}
}

func (v *Vestibule) onReadinessSignal(ctx context.Context, id entity.ID) {
	if v.Pending(id) == 0 {
		return
	}
	if !v.Ready(ctx, id) {
		v.logger.Debug("entity signaled but not ready yet", "id", id.String())
		return
	}
	v.ResumeMessages(ctx, id)
}
