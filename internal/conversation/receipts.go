// ABOUTME: Receipt handling: correlates delivery/read receipts to original messages
// ABOUTME: Untracked origin kinds are accepted as no-ops; a missing origin sn is tolerated

package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/store"
)

// tracePayload is the serialized per-receipt delivery metadata.
type tracePayload struct {
	Sender string `json:"sender"`
	Time   int64  `json:"time,omitempty"`
	Text   string `json:"text,omitempty"`
}

// saveReceipt records a trace for the original message a receipt refers to.
// Receipts for command, forwarded, batched and application content are not
// tracked and succeed as no-ops.
func (s *Service) saveReceipt(ctx context.Context, msg *entity.InstantMessage, receipt *entity.ReceiptCommand) error {
	switch receipt.OriginType {
	case entity.ContentCommand, entity.ContentHistory,
		entity.ContentForward, entity.ContentArray, entity.ContentCustomized:
		return nil
	}
	origin := receipt.OriginEnvelope
	if origin == nil {
		s.logger.Warn("receipt without origin envelope",
			"sender", msg.Envelope.Sender.String())
		return nil
	}

	cid := receipt.OriginGroup
	if cid.IsZero() {
		if origin.Receiver.IsGroup() {
			cid = origin.Receiver
		} else if origin.Sender == s.user {
			cid = origin.Receiver
		} else {
			cid = origin.Sender
		}
	}
	if cid.IsZero() {
		s.logger.Warn("receipt origin has no resolvable conversation")
		return nil
	}

	if receipt.OriginSN == 0 {
		s.logger.Error("receipt origin missing sn, tracing under 0",
			"cid", cid.String(),
			"sender", origin.Sender.String())
	}

	payload, err := json.Marshal(tracePayload{
		Sender: msg.Envelope.Sender.String(),
		Time:   msg.Envelope.Time.Unix(),
		Text:   receipt.Text,
	})
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}

	trace := &store.Trace{
		CID:       cid,
		Sender:    origin.Sender,
		SN:        receipt.OriginSN,
		Signature: receipt.OriginSignature,
		Payload:   payload,
		CreatedAt: msg.Envelope.Time,
	}
	if err := s.archive.SaveTrace(ctx, trace); err != nil {
		return fmt.Errorf("saving trace: %w", err)
	}
	return nil
}

// Traces returns the receipt traces recorded for one message, oldest first.
func (s *Service) Traces(ctx context.Context, cid, sender entity.ID, sn uint64) ([]*store.Trace, error) {
	return s.archive.ListTraces(ctx, cid, sender, sn)
}
