package compliance

import (
	"time"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
	"github.com/odyssey-erp/fiscalbridge/internal/stockmaster"
)

// Outcome summarises what a Submit call achieved.
type Outcome string

const (
	OutcomeAcknowledged        Outcome = "acknowledged"
	OutcomeAlreadyAcknowledged Outcome = "already_acknowledged"
	OutcomePending             Outcome = "pending"
	OutcomeRejected            Outcome = "rejected"
	OutcomeAwaitingOriginal    Outcome = "awaiting_original"
)

// Result is returned by Submit. Entry is the entry last sent, or the
// existing acknowledged entry for a no-op.
type Result struct {
	Class      fiscal.Class
	DocumentID string
	Outcome    Outcome
	Entry      ledger.Entry
	// Replayed is set when a stored payload was resent unchanged.
	Replayed bool
	// Superseded is the prior entry replaced by this submission.
	Superseded *ledger.Entry
	Renumbered int
	Warning    *SubmissionWarning
}

// SweepItem is the result of one document in a sweep.
type SweepItem struct {
	Class      fiscal.Class `json:"class"`
	DocumentID string       `json:"document_id"`
	Outcome    Outcome      `json:"outcome,omitempty"`
	Sequence   int64        `json:"sequence,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// SweepReport summarises a retry sweep.
type SweepReport struct {
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	Attempted    int         `json:"attempted"`
	Acknowledged int         `json:"acknowledged"`
	Unchanged    int         `json:"unchanged"`
	Pending      int         `json:"pending"`
	Rejected     int         `json:"rejected"`
	Waiting      int         `json:"waiting"`
	Failed       int         `json:"failed"`
	Items        []SweepItem `json:"items"`
	// StockMaster counts the queued item levels pushed after the documents.
	StockMaster stockmaster.Report `json:"stock_master"`
}

func (r *SweepReport) add(item SweepItem) {
	r.Attempted++
	switch {
	case item.Error != "" && item.Outcome == "":
		r.Failed++
	case item.Outcome == OutcomeAcknowledged:
		r.Acknowledged++
	case item.Outcome == OutcomeAlreadyAcknowledged:
		r.Unchanged++
	case item.Outcome == OutcomePending:
		r.Pending++
	case item.Outcome == OutcomeRejected:
		r.Rejected++
	case item.Outcome == OutcomeAwaitingOriginal:
		r.Waiting++
	}
	r.Items = append(r.Items, item)
}
