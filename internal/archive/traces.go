// ABOUTME: Receipt trace persistence with change events
// ABOUTME: Traces are append-only correlation rows; no cache pool backs them

package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
	"github.com/palaver-im/palaver/internal/store"
)

// SaveTrace appends a receipt trace for the original message identified by
// (cid, sender, sn) and publishes a message_traced event so open views can
// refresh delivery marks.
func (a *Archive) SaveTrace(ctx context.Context, trace *store.Trace) error {
	if trace.ID == "" {
		trace.ID = uuid.New().String()
	}
	if err := a.store.InsertTrace(ctx, trace); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("saving trace: %w", err)
	}
	a.bus.Publish(events.Event{
		Name:   events.MessageTraced,
		Action: events.ActionAdd,
		ID:     trace.CID,
		User:   trace.Sender,
		SN:     trace.SN,
		Time:   trace.CreatedAt,
	})
	return nil
}

// ListTraces returns every trace recorded for one message, oldest first.
func (a *Archive) ListTraces(ctx context.Context, cid, sender entity.ID, sn uint64) ([]*store.Trace, error) {
	return a.store.ListTraces(ctx, cid, sender, sn)
}
