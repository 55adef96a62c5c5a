// Package payload turns source documents into gateway request bodies, one
// builder per transaction class.
//
// Building happens in two phases. Prepare resolves codes, taxes and
// reversal linkage and fails on anything the gateway would reject as
// malformed; Draft.Render then stamps a sequence number. Only a successful
// Prepare ever reaches the sequence allocator.
package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
)

var (
	// ErrFractionalQuantity indicates a line quantity the gateway cannot carry.
	ErrFractionalQuantity = errors.New("payload: fractional quantities are not supported")
	// ErrOriginalNotAcknowledged indicates a reversal whose original was never accepted.
	ErrOriginalNotAcknowledged = errors.New("payload: reversed document has no acknowledged submission")
	// ErrUnsupportedBracket indicates a configured bracket with no gateway field.
	ErrUnsupportedBracket = errors.New("payload: tax bracket has no gateway field")
)

// Originals resolves what the gateway already accepted for a document.
type Originals interface {
	// AcknowledgedSequence returns the sequence of the active acknowledged entry.
	AcknowledgedSequence(ctx context.Context, class fiscal.Class, documentID string) (int64, error)
	// AcknowledgedPayload returns the body of the latest acknowledged entry,
	// superseded or not.
	AcknowledgedPayload(ctx context.Context, class fiscal.Class, documentID string) ([]byte, error)
}

// Env carries the tenant context shared by every builder.
type Env struct {
	Tenant    fiscal.Tenant
	Codes     *codes.Codebook
	Originals Originals
}

// Builder prepares payloads for one class.
type Builder interface {
	Class() fiscal.Class
	Prepare(ctx context.Context, doc fiscal.Document) (*Draft, error)
}

// Draft is a validated payload waiting for its sequence number.
type Draft struct {
	Class      fiscal.Class
	DocumentID string
	Revision   int
	render     func(seq int64) any
}

// Render produces the request body for seq. The same seq always yields the
// same bytes.
func (d *Draft) Render(seq int64) ([]byte, error) {
	if seq <= 0 {
		return nil, fmt.Errorf("payload: invalid sequence %d", seq)
	}
	body, err := json.Marshal(d.render(seq))
	if err != nil {
		return nil, fmt.Errorf("payload: encode %s %s: %w", d.Class, d.DocumentID, err)
	}
	return body, nil
}

// Ledger converts the draft into an allocator draft.
func (d *Draft) Ledger(supersedes *uuid.UUID) ledger.Draft {
	return ledger.Draft{
		Class:            d.Class,
		SourceDocumentID: d.DocumentID,
		SourceRevision:   d.Revision,
		Supersedes:       supersedes,
		Render:           d.Render,
	}
}

// Registry dispatches documents to their class builder.
type Registry struct {
	builders map[fiscal.Class]Builder
}

// NewRegistry wires the builders of every class.
func NewRegistry(env Env) (*Registry, error) {
	if err := env.Tenant.Validate(); err != nil {
		return nil, err
	}
	if env.Codes == nil {
		return nil, errors.New("payload: codebook required")
	}
	if env.Originals == nil {
		return nil, errors.New("payload: originals resolver required")
	}
	r := &Registry{builders: make(map[fiscal.Class]Builder)}
	for _, b := range []Builder{
		&SaleBuilder{env: env},
		&PurchaseBuilder{env: env},
		&StockBuilder{env: env},
		&ItemBuilder{env: env},
	} {
		r.builders[b.Class()] = b
	}
	return r, nil
}

// For returns the builder of class.
func (r *Registry) For(class fiscal.Class) (Builder, error) {
	b, ok := r.builders[class]
	if !ok {
		return nil, fmt.Errorf("payload: no builder for class %q", class)
	}
	return b, nil
}

// Prepare validates doc and prepares its draft.
func (r *Registry) Prepare(ctx context.Context, doc fiscal.Document) (*Draft, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	b, err := r.For(doc.Class)
	if err != nil {
		return nil, err
	}
	return b.Prepare(ctx, doc)
}

// LedgerOriginals resolves originals from the submission log.
type LedgerOriginals struct {
	Store ledger.Store
}

func (o LedgerOriginals) AcknowledgedSequence(ctx context.Context, class fiscal.Class, documentID string) (int64, error) {
	entry, err := o.Store.Active(ctx, class, documentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s %s", ErrOriginalNotAcknowledged, class, documentID)
	}
	if err != nil {
		return 0, err
	}
	if !entry.Acknowledged() {
		return 0, fmt.Errorf("%w: %s %s is %s", ErrOriginalNotAcknowledged, class, documentID, entry.Status)
	}
	return entry.SequenceNo, nil
}

func (o LedgerOriginals) AcknowledgedPayload(ctx context.Context, class fiscal.Class, documentID string) ([]byte, error) {
	history, err := o.Store.History(ctx, class, documentID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Acknowledged() {
			return history[i].Payload, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrOriginalNotAcknowledged, class, documentID)
}
