package compliance

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/gateway"
	"github.com/odyssey-erp/fiscalbridge/internal/payload"
	"github.com/odyssey-erp/fiscalbridge/internal/tax"
)

var (
	// ErrValidation marks failures that must be fixed at the source document.
	// Nothing is persisted and no sequence number is consumed.
	ErrValidation = errors.New("compliance: validation failed")
	// ErrDocumentNotFound indicates the source accessor has no such document.
	ErrDocumentNotFound = errors.New("compliance: source document not found")
	// ErrAwaitingOriginal is returned for a reversal whose original has no
	// acknowledged entry yet. Nothing is persisted; the sweep retries it.
	ErrAwaitingOriginal = errors.New("compliance: reversal awaits its original")
)

var validationCauses = []error{
	fiscal.ErrInvalidDocument,
	codes.ErrUnmappedCode,
	tax.ErrUnclassifiedItem,
	tax.ErrTotalMismatch,
	payload.ErrFractionalQuantity,
	payload.ErrUnsupportedBracket,
	ErrDocumentNotFound,
}

func asValidation(err error) error {
	for _, cause := range validationCauses {
		if errors.Is(err, cause) {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return err
}

// DuplicateExhaustedError reports that the gateway kept refusing freshly
// allocated sequence numbers as duplicates.
type DuplicateExhaustedError struct {
	Class        fiscal.Class
	DocumentID   string
	Attempts     int
	LastSequence int64
}

func (e *DuplicateExhaustedError) Error() string {
	return fmt.Sprintf("compliance: %s %s: gateway reported duplicate sequence %d times (last %d)",
		e.Class, e.DocumentID, e.Attempts, e.LastSequence)
}

// SubmissionWarning describes a submission that did not succeed now but
// stays queued for the retry sweep.
type SubmissionWarning struct {
	Class      fiscal.Class
	DocumentID string
	Sequence   int64
	Kind       gateway.Kind
	Code       string
	Detail     string
}

func (w *SubmissionWarning) Error() string {
	return fmt.Sprintf("compliance: %s %s (sequence %d) %s: %s", w.Class, w.DocumentID, w.Sequence, w.Kind, w.Detail)
}
