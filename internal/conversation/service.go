// ABOUTME: Message ingestion and conversation aggregate maintenance
// ABOUTME: Single entry point turning a decoded message into persisted state

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/palaver-im/palaver/internal/archive"
	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/store"
)

// ErrNoConversation is returned when no conversation id can be derived for a
// message (malformed routing, or a self-addressed message with no counterpart).
var ErrNoConversation = errors.New("cannot resolve conversation id")

// Archive is the slice of the archive layer the service needs.
type Archive interface {
	GetConversation(ctx context.Context, id entity.ID) (*store.Conversation, error)
	SaveConversation(ctx context.Context, c *store.Conversation) error
	RemoveConversation(ctx context.Context, id entity.ID) error
	ListConversations(ctx context.Context) ([]*store.Conversation, error)
	ListMessages(ctx context.Context, cid entity.ID, limit int) ([]*store.Message, error)
	SaveMessage(ctx context.Context, cid entity.ID, msg *entity.InstantMessage, signature string) (bool, error)
	SaveTrace(ctx context.Context, trace *store.Trace) error
	ListTraces(ctx context.Context, cid, sender entity.ID, sn uint64) ([]*store.Trace, error)
	GetMembers(ctx context.Context, group entity.ID) ([]entity.ID, error)
}

// Shield answers block/mute questions before any aggregate mutation.
type Shield interface {
	IsBlocked(ctx context.Context, sender, group entity.ID) (bool, error)
	IsMuted(ctx context.Context, sender, group entity.ID) (bool, error)
}

// Identity resolves display names for previews and mention detection.
type Identity interface {
	Name(ctx context.Context, id entity.ID) string
}

// Service ingests decoded messages and keeps each conversation's aggregate
// record (unread count, preview, mention serial) in sync with its messages.
type Service struct {
	archive Archive
	shield  Shield
	names   Identity
	user    entity.ID
	logger  *slog.Logger

	mu   sync.Mutex
	open map[entity.ID]bool // conversations currently bound to an open view

	// aggMu serializes every load-modify-save of a conversation record so
	// concurrent ingestion cannot lose unread increments.
	aggMu sync.Mutex
}

// NewService creates the ingestion service for the local user.
func NewService(a Archive, shield Shield, names Identity, user entity.ID, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		archive: a,
		shield:  shield,
		names:   names,
		user:    user,
		logger:  logger.With("component", "conversation"),
	}
}

// SaveInstantMessage classifies and persists one decoded message, then updates
// the owning conversation's aggregate record. signature is the transport
// signature of the carrying reliable message; nil for locally sent messages.
//
// Returns archive.ErrStale when the message is an out-of-order resend; the
// stored state is left untouched in that case.
func (s *Service) SaveInstantMessage(ctx context.Context, msg *entity.InstantMessage, signature []byte) error {
	if receipt, ok := msg.Content.(*entity.ReceiptCommand); ok {
		return s.saveReceipt(ctx, msg, receipt)
	}
	if !needsStore(msg.Content) {
		// Handled by dedicated command processors outside this engine.
		return nil
	}

	cid, err := s.conversationID(msg)
	if err != nil {
		return err
	}

	// Persist the message first; an unsaved message must never move the
	// conversation aggregate.
	_, err = s.archive.SaveMessage(ctx, cid, msg, entity.SignatureFragment(signature))
	if err != nil {
		if errors.Is(err, archive.ErrStale) {
			return err
		}
		return fmt.Errorf("persisting message: %w", err)
	}

	if err := s.updateAggregate(ctx, cid, msg); err != nil {
		s.logger.Error("conversation update failed",
			"cid", cid.String(),
			"error", err)
		return err
	}
	return nil
}

// reservedApps lists customized-content application identifiers claimed by
// dedicated processors; their payloads are consumed there, not stored.
var reservedApps = map[string]bool{
	"chat.dim.sechat": true,
}

// needsStore reports whether the content kind is persisted by this engine.
// Commands with dedicated processors, forwarded envelopes, batched payloads
// and customized content under a reserved app id are accepted without
// storing.
func needsStore(content entity.Content) bool {
	switch c := content.(type) {
	case *entity.ForwardContent, *entity.ArrayContent:
		return false
	case *entity.CustomizedContent:
		return !reservedApps[c.App]
	case *entity.CommandContent:
		switch c.Name {
		case entity.CmdHandshake, entity.CmdReport, entity.CmdLogin,
			entity.CmdMeta, entity.CmdDocument, entity.CmdSearch:
			return false
		}
		return true
	}
	return true
}

// conversationID derives the owning conversation: the group if there is one,
// otherwise the counterpart of the local user.
func (s *Service) conversationID(msg *entity.InstantMessage) (entity.ID, error) {
	if g := msg.Group(); !g.IsZero() {
		return g, nil
	}
	sender, receiver := msg.Envelope.Sender, msg.Envelope.Receiver
	if sender == s.user && !receiver.IsZero() && receiver != s.user {
		return receiver, nil
	}
	if !sender.IsZero() && sender != s.user {
		return sender, nil
	}
	return entity.ID{}, ErrNoConversation
}

// updateAggregate applies one accepted message to the conversation record.
func (s *Service) updateAggregate(ctx context.Context, cid entity.ID, msg *entity.InstantMessage) error {
	base := msg.Content.Base()
	sender := msg.Envelope.Sender
	group := msg.Group()

	blocked, err := s.shield.IsBlocked(ctx, sender, group)
	if err != nil {
		return fmt.Errorf("checking block list: %w", err)
	}
	if blocked {
		s.logger.Debug("skipping aggregate for blocked sender",
			"sender", sender.String(),
			"cid", cid.String())
		return nil
	}

	hidden, err := s.isHidden(ctx, msg)
	if err != nil {
		return err
	}
	if hidden {
		return nil
	}

	preview := s.renderPreview(ctx, cid, msg)
	delta, err := s.unreadDelta(ctx, msg, group)
	if err != nil {
		return err
	}
	mentionSN := s.mentionSerial(ctx, msg)

	s.aggMu.Lock()
	defer s.aggMu.Unlock()

	conv, err := s.archive.GetConversation(ctx, cid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		conv = &store.Conversation{ID: cid}
	case err != nil:
		return fmt.Errorf("loading conversation: %w", err)
	default:
		// Out-of-order or duplicate delivery must not regress the aggregate.
		if !base.Time.After(conv.LastTime) {
			return nil
		}
	}

	if s.IsOpen(cid) {
		// An open view means the user is watching; nothing is unread.
		conv.Unread = 0
		conv.MentionSN = 0
	} else {
		conv.Unread += delta
		if mentionSN > 0 {
			conv.MentionSN = mentionSN
		}
	}
	conv.Preview = preview
	conv.LastTime = base.Time

	if err := s.archive.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

// isHidden reports whether the content is invisible to the aggregate: an
// explicit hidden flag, generic command content, a group-lifecycle command
// for a group the local user is not currently in, or a system receipt text.
func (s *Service) isHidden(ctx context.Context, msg *entity.InstantMessage) (bool, error) {
	base := msg.Content.Base()
	if base.Hidden {
		return true, nil
	}
	switch c := msg.Content.(type) {
	case *entity.CommandContent:
		return true, nil
	case *entity.GroupCommand:
		group := msg.Group()
		if group.IsZero() {
			return true, nil
		}
		members, err := s.archive.GetMembers(ctx, group)
		if err != nil {
			return false, fmt.Errorf("loading members: %w", err)
		}
		for _, m := range members {
			if m == s.user {
				return false, nil
			}
		}
		return true, nil
	case *entity.TextContent:
		return isSystemReceiptText(c.Text), nil
	}
	return false, nil
}

// unreadDelta is 1 for a countable inbound message, 0 for anything the user
// has effectively already seen or asked not to be bothered by.
func (s *Service) unreadDelta(ctx context.Context, msg *entity.InstantMessage, group entity.ID) (int, error) {
	base := msg.Content.Base()
	if msg.Envelope.Sender == s.user {
		return 0, nil
	}
	if base.Type.IsCommand() || base.Muted {
		return 0, nil
	}
	muted, err := s.shield.IsMuted(ctx, msg.Envelope.Sender, group)
	if err != nil {
		return 0, fmt.Errorf("checking mute list: %w", err)
	}
	if muted {
		return 0, nil
	}
	return 1, nil
}

// mentionSerial returns the message's sn when its text mentions the local
// user (by nickname or the "@all"/"@All" tokens), else 0.
func (s *Service) mentionSerial(ctx context.Context, msg *entity.InstantMessage) uint64 {
	text, ok := msg.Content.(*entity.TextContent)
	if !ok || msg.Envelope.Sender == s.user {
		return 0
	}
	if mentions(text.Text, s.names.Name(ctx, s.user)) {
		return text.SN
	}
	return 0
}

// IsOpen reports whether the conversation is bound to an open view.
func (s *Service) IsOpen(cid entity.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[cid]
}

// OpenConversation binds the conversation to an open view and clears its
// unread state; messages arriving while open do not accumulate unread.
func (s *Service) OpenConversation(ctx context.Context, cid entity.ID) error {
	s.mu.Lock()
	if s.open == nil {
		s.open = make(map[entity.ID]bool)
	}
	s.open[cid] = true
	s.mu.Unlock()
	return s.MarkRead(ctx, cid)
}

// CloseConversation releases the open binding; subsequent messages accumulate
// unread again.
func (s *Service) CloseConversation(cid entity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, cid)
}

// MarkRead resets unread count and mention serial to zero. A missing
// conversation is a no-op.
func (s *Service) MarkRead(ctx context.Context, cid entity.ID) error {
	s.aggMu.Lock()
	defer s.aggMu.Unlock()

	conv, err := s.archive.GetConversation(ctx, cid)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if conv.Unread == 0 && conv.MentionSN == 0 {
		return nil
	}
	conv.Unread = 0
	conv.MentionSN = 0
	if err := s.archive.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation and all its messages.
func (s *Service) DeleteConversation(ctx context.Context, cid entity.ID) error {
	s.mu.Lock()
	delete(s.open, cid)
	s.mu.Unlock()
	return s.archive.RemoveConversation(ctx, cid)
}

// ListConversations returns every conversation, most recent activity first.
func (s *Service) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	return s.archive.ListConversations(ctx)
}

// ListMessages returns up to limit most recent messages of a conversation in
// chronological order; limit <= 0 means all.
func (s *Service) ListMessages(ctx context.Context, cid entity.ID, limit int) ([]*store.Message, error) {
	return s.archive.ListMessages(ctx, cid, limit)
}
