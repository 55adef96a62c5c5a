package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

// Status is the lifecycle state of a submission log entry.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusRejected     Status = "rejected"
)

// Entry is one attempted submission. Payload is the verbatim request body
// and never changes once stored.
type Entry struct {
	ID               uuid.UUID
	Class            fiscal.Class
	SourceDocumentID string
	SourceRevision   int
	SequenceNo       int64
	Payload          []byte
	Status           Status
	ResultCode       string
	ErrorDetail      string
	GatewayFields    json.RawMessage
	// Terminal marks a rejection the retry sweep must not pick up.
	Terminal       bool
	Attempts       int
	Supersedes     *uuid.UUID
	SupersededBy   *uuid.UUID
	CancelledAt    *time.Time
	PrintCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AcknowledgedAt *time.Time
}

// Active reports whether no later entry replaces this one.
func (e Entry) Active() bool {
	return e.SupersededBy == nil
}

// Acknowledged reports whether the gateway accepted the entry.
func (e Entry) Acknowledged() bool {
	return e.Status == StatusAcknowledged
}

// Retryable reports whether the retry sweep should resubmit the entry.
func (e Entry) Retryable() bool {
	return e.Active() && !e.Terminal && e.Status != StatusAcknowledged
}

// Receipt decodes the gateway fields of an acknowledged sale.
func (e Entry) Receipt() (Receipt, error) {
	var r Receipt
	if len(e.GatewayFields) == 0 || string(e.GatewayFields) == "null" {
		return r, nil
	}
	err := json.Unmarshal(e.GatewayFields, &r)
	return r, err
}

// Receipt is the signature block the gateway returns for a sale. It is
// needed to reprint and audit the receipt later.
type Receipt struct {
	ReceiptNo       int64  `json:"rcptNo"`
	TotalReceiptNo  int64  `json:"totRcptNo"`
	InternalData    string `json:"intrlData"`
	ReceiptSign     string `json:"rcptSign"`
	SDCID           string `json:"sdcId"`
	MRCNo           string `json:"mrcNo"`
	PublicationDate string `json:"vsdcRcptPbctDate"`
}

// Update carries the outcome of one send attempt.
type Update struct {
	Status        Status
	ResultCode    string
	ErrorDetail   string
	GatewayFields json.RawMessage
	Terminal      bool
	At            time.Time
}

// Draft describes an entry waiting for its sequence number. Render is
// called with every candidate number and must be deterministic.
type Draft struct {
	Class            fiscal.Class
	SourceDocumentID string
	SourceRevision   int
	Supersedes       *uuid.UUID
	Render           func(seq int64) ([]byte, error)
}
