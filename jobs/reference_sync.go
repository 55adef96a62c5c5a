package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	jobmetrics "github.com/odyssey-erp/fiscalbridge/internal/jobs"
)

// defaultReferenceEpoch predates every gateway code list.
var defaultReferenceEpoch = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

// ReferenceSyncJob refreshes the gateway code lists held in Redis and in
// the worker's live codebook.
type ReferenceSyncJob struct {
	Caller   codes.Caller
	Codebook *codes.Codebook
	Store    *codes.Store
	Table    codes.Table
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle executes the sync.
func (j *ReferenceSyncJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Caller == nil || j.Codebook == nil {
		return errors.New("reference sync: handler not configured")
	}
	var payload ReferenceSyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	since := payload.Since
	if since.IsZero() {
		since = defaultReferenceEpoch
	}
	table := j.Table
	if table == nil {
		table = codes.DefaultTable
	}

	tracker := j.Metrics.Track(TaskReferenceSync)
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskReferenceSync)
	report, err := codes.Sync(ctx, j.Caller, table, j.Codebook, j.Store, since)
	if err != nil {
		logger.Error("reference sync failed", slog.Any("error", err))
		return err
	}
	for category, n := range report.Categories {
		logger.Info("reference codes stored", slog.String("category", string(category)), slog.Int("codes", n))
	}
	if len(report.Skipped) > 0 {
		logger.Debug("unmapped code classes skipped", slog.Any("classes", report.Skipped))
	}
	return nil
}

// Registration binds the job to its task type.
func (j *ReferenceSyncJob) Registration() TaskHandler {
	return TaskHandler{Type: TaskReferenceSync, Handler: j.Handle}
}
