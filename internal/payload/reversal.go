package payload

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

type reversal struct {
	originalSeq int64
	reasonCode  string
	at          string
}

// resolveReversal looks up the acknowledged sequence of the reversed
// document and maps its reason. Originals have a zero reversal.
func resolveReversal(ctx context.Context, env Env, doc fiscal.Document) (reversal, error) {
	if !doc.IsReversal() {
		return reversal{}, nil
	}
	seq, err := env.Originals.AcknowledgedSequence(ctx, doc.Class, doc.ReversalOf)
	if err != nil {
		return reversal{}, fmt.Errorf("payload: %s %s reverses %s: %w", doc.Class, doc.ID, doc.ReversalOf, err)
	}
	code, err := env.Codes.Lookup(codes.RefundReason, doc.ReversalReason)
	if err != nil {
		return reversal{}, fmt.Errorf("payload: %s %s: %w", doc.Class, doc.ID, err)
	}
	at := doc.ReversedAt
	if at.IsZero() {
		at = doc.PostedAt
	}
	return reversal{originalSeq: seq, reasonCode: code, at: formatDateTime(at)}, nil
}
