// ABOUTME: Block and mute decisions for incoming messages
// ABOUTME: Checks the local user's cached lists; a group hit shields the whole conversation

package shield

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/palaver-im/palaver/internal/entity"
)

// Lists is the slice of the archive the shield needs.
type Lists interface {
	GetBlockList(ctx context.Context, owner entity.ID) ([]entity.ID, error)
	GetMuteList(ctx context.Context, owner entity.ID) ([]entity.ID, error)
	AddBlocked(ctx context.Context, owner, target entity.ID) error
	RemoveBlocked(ctx context.Context, owner, target entity.ID) error
	AddMuted(ctx context.Context, owner, target entity.ID) error
	RemoveMuted(ctx context.Context, owner, target entity.ID) error
}

// Shield answers block and mute questions for the local user.
type Shield struct {
	lists  Lists
	user   entity.ID
	logger *slog.Logger
}

// New creates a shield for the local user's lists.
func New(lists Lists, user entity.ID, logger *slog.Logger) *Shield {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shield{
		lists:  lists,
		user:   user,
		logger: logger.With("component", "shield"),
	}
}

// IsBlocked reports whether a message from sender (in group, if non-zero)
// should be discarded. A blocked group shields every sender in it.
func (s *Shield) IsBlocked(ctx context.Context, sender, group entity.ID) (bool, error) {
	list, err := s.lists.GetBlockList(ctx, s.user)
	if err != nil {
		return false, fmt.Errorf("loading block list: %w", err)
	}
	return contains(list, sender) || (!group.IsZero() && contains(list, group)), nil
}

// IsMuted reports whether messages from sender (in group, if non-zero) should
// skip unread and mention accounting.
func (s *Shield) IsMuted(ctx context.Context, sender, group entity.ID) (bool, error) {
	list, err := s.lists.GetMuteList(ctx, s.user)
	if err != nil {
		return false, fmt.Errorf("loading mute list: %w", err)
	}
	return contains(list, sender) || (!group.IsZero() && contains(list, group)), nil
}

// Block adds target to the local user's block list.
func (s *Shield) Block(ctx context.Context, target entity.ID) error {
	s.logger.Info("blocking", "target", target.String())
	return s.lists.AddBlocked(ctx, s.user, target)
}

// Unblock removes target from the local user's block list.
func (s *Shield) Unblock(ctx context.Context, target entity.ID) error {
	return s.lists.RemoveBlocked(ctx, s.user, target)
}

// Mute adds target to the local user's mute list.
func (s *Shield) Mute(ctx context.Context, target entity.ID) error {
	return s.lists.AddMuted(ctx, s.user, target)
}

// Unmute removes target from the local user's mute list.
func (s *Shield) Unmute(ctx context.Context, target entity.ID) error {
	return s.lists.RemoveMuted(ctx, s.user, target)
}

func contains(list []entity.ID, id entity.ID) bool {
	for _, entry := range list {
		if entry == id {
			return true
		}
	}
	return false
}
