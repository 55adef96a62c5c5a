package ops

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
)

// problemDetail is an RFC 7807 error body.
type problemDetail struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problemDetail{Title: title, Status: status, Detail: detail})
}

type entryView struct {
	ID             uuid.UUID       `json:"id"`
	Class          string          `json:"class"`
	DocumentID     string          `json:"document_id"`
	Revision       int             `json:"revision"`
	Sequence       int64           `json:"sequence"`
	Status         string          `json:"status"`
	ResultCode     string          `json:"result_code,omitempty"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
	Terminal       bool            `json:"terminal,omitempty"`
	Attempts       int             `json:"attempts"`
	PrintCount     int             `json:"print_count"`
	Supersedes     *uuid.UUID      `json:"supersedes,omitempty"`
	SupersededBy   *uuid.UUID      `json:"superseded_by,omitempty"`
	Receipt        json.RawMessage `json:"receipt,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

func newEntryView(e ledger.Entry) entryView {
	return entryView{
		ID:             e.ID,
		Class:          string(e.Class),
		DocumentID:     e.SourceDocumentID,
		Revision:       e.SourceRevision,
		Sequence:       e.SequenceNo,
		Status:         string(e.Status),
		ResultCode:     e.ResultCode,
		ErrorDetail:    e.ErrorDetail,
		Terminal:       e.Terminal,
		Attempts:       e.Attempts,
		PrintCount:     e.PrintCount,
		Supersedes:     e.Supersedes,
		SupersededBy:   e.SupersededBy,
		Receipt:        e.GatewayFields,
		CreatedAt:      e.CreatedAt,
		AcknowledgedAt: e.AcknowledgedAt,
		CancelledAt:    e.CancelledAt,
	}
}
