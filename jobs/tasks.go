package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

const (
	// QueueFiscal carries every submission task. The worker drains it with
	// a concurrency of one so a tenant has a single writer.
	QueueFiscal = "fiscal"
	// TaskFiscalSubmit submits one finalized document.
	TaskFiscalSubmit = "fiscal:submit"
	// TaskFiscalSweep retries everything still unacknowledged.
	TaskFiscalSweep = "fiscal:sweep"
	// TaskReferenceSync refreshes gateway code lists.
	TaskReferenceSync = "fiscal:reference_sync"
)

// SubmitPayload identifies the document of a fiscal:submit task.
type SubmitPayload struct {
	Class      string `json:"class"`
	DocumentID string `json:"document_id"`
}

// SweepPayload describes why a sweep was requested.
type SweepPayload struct {
	Trigger string `json:"trigger"`
}

// ReferenceSyncPayload bounds the code lists requested. An empty Since asks
// for the full lists.
type ReferenceSyncPayload struct {
	Since time.Time `json:"since,omitempty"`
}

// NewSubmitTask constructs a fiscal:submit task.
func NewSubmitTask(class fiscal.Class, documentID string) (*asynq.Task, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("jobs: unknown class %q", class)
	}
	if documentID == "" {
		return nil, fmt.Errorf("jobs: document id required")
	}
	data, err := json.Marshal(SubmitPayload{Class: string(class), DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFiscalSubmit, data), nil
}

// NewSweepTask constructs a fiscal:sweep task.
func NewSweepTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(SweepPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFiscalSweep, data), nil
}

// NewReferenceSyncTask constructs a fiscal:reference_sync task.
func NewReferenceSyncTask(since time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(ReferenceSyncPayload{Since: since})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReferenceSync, data), nil
}
