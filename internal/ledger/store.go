package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

var (
	// ErrNotFound indicates the entry does not exist.
	ErrNotFound = errors.New("ledger: entry not found")
	// ErrSequenceTaken indicates another entry already holds the sequence number.
	ErrSequenceTaken = errors.New("ledger: sequence number already allocated")
	// ErrActiveEntryExists indicates the document already has a non-superseded entry.
	ErrActiveEntryExists = errors.New("ledger: document already has an active entry")
	// ErrAlreadySuperseded indicates the entry to supersede was replaced concurrently.
	ErrAlreadySuperseded = errors.New("ledger: entry already superseded")
	// ErrAcknowledged indicates an attempt to change the outcome of an acknowledged entry.
	ErrAcknowledged = errors.New("ledger: entry already acknowledged")
	// ErrSequenceContention indicates allocation kept conflicting with other writers.
	ErrSequenceContention = errors.New("ledger: sequence allocation contention")
)

// Store persists submission log entries. Implementations enforce
// uniqueness of (class, sequence_no) and of the active entry per
// (class, source_document_id).
type Store interface {
	// MaxSequence returns the highest sequence ever stored for class, 0 when none.
	MaxSequence(ctx context.Context, class fiscal.Class) (int64, error)
	// Insert stores a new entry. When entry.Supersedes is set the referenced
	// entry is marked superseded and cancelled in the same transaction.
	Insert(ctx context.Context, entry Entry) error
	Get(ctx context.Context, id uuid.UUID) (Entry, error)
	// Active returns the non-superseded entry of a document.
	Active(ctx context.Context, class fiscal.Class, documentID string) (Entry, error)
	// History returns every entry of a document, oldest first.
	History(ctx context.Context, class fiscal.Class, documentID string) ([]Entry, error)
	// Record stores the outcome of a send attempt and bumps the attempt counter.
	Record(ctx context.Context, id uuid.UUID, update Update) error
	// ListRetryable returns active, non-terminal, unacknowledged entries
	// ordered by class and sequence.
	ListRetryable(ctx context.Context, limit int) ([]Entry, error)
	// IncrementPrintCount bumps the reprint counter and returns the new value.
	IncrementPrintCount(ctx context.Context, id uuid.UUID) (int, error)
}

func classOrder(c fiscal.Class) int {
	for i, known := range fiscal.Classes {
		if known == c {
			return i
		}
	}
	return len(fiscal.Classes)
}
