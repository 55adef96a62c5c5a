package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fiscalbridge/internal/compliance"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	jobmetrics "github.com/odyssey-erp/fiscalbridge/internal/jobs"
)

// Submitter is the pipeline the submission jobs drive.
type Submitter interface {
	Submit(ctx context.Context, class fiscal.Class, documentID string) (compliance.Result, error)
	Sweep(ctx context.Context) (compliance.SweepReport, error)
}

// SubmitJob handles fiscal:submit tasks.
type SubmitJob struct {
	Service Submitter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle submits the document named by the task. Validation failures and
// exhausted duplicate resolution are not retried by the queue. A reversal
// waiting for its original is left to the retry sweep.
func (j *SubmitJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("submit job: handler not configured")
	}
	var payload SubmitPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	class, err := fiscal.ParseClass(payload.Class)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskFiscalSubmit)
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskFiscalSubmit).With(
		slog.String("class", string(class)),
		slog.String("document", payload.DocumentID),
	)

	res, err := j.Service.Submit(ctx, class, payload.DocumentID)
	var exhausted *compliance.DuplicateExhaustedError
	switch {
	case errors.Is(err, compliance.ErrValidation):
		logger.Warn("document rejected before submission", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case errors.Is(err, compliance.ErrAwaitingOriginal):
		logger.Warn("reversal deferred to retry sweep", slog.Any("error", err))
		return nil
	case errors.As(err, &exhausted):
		logger.Error("duplicate resolution exhausted", slog.Int("attempts", exhausted.Attempts))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case err != nil:
		return err
	}

	if res.Warning != nil {
		logger.Warn("submission deferred to retry sweep", slog.String("detail", res.Warning.Detail))
		return nil
	}
	logger.Info("submission finished",
		slog.String("outcome", string(res.Outcome)),
		slog.Int64("sequence", res.Entry.SequenceNo),
	)
	return nil
}

// Registration binds the job to its task type.
func (j *SubmitJob) Registration() TaskHandler {
	return TaskHandler{Type: TaskFiscalSubmit, Handler: j.Handle}
}

// SweepJob handles fiscal:sweep tasks.
type SweepJob struct {
	Service Submitter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle runs one retry sweep. Per-document failures end up in the report;
// only a sweep that could not list its work fails the task.
func (j *SweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("sweep job: handler not configured")
	}
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskFiscalSweep)
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskFiscalSweep).With(slog.String("trigger", payload.Trigger))
	report, err := j.Service.Sweep(ctx)
	if err != nil {
		logger.Error("sweep aborted", slog.Any("error", err), slog.Int("attempted", report.Attempted))
		return err
	}
	for _, item := range report.Items {
		if item.Error == "" {
			continue
		}
		logger.Warn("sweep item not acknowledged",
			slog.String("class", string(item.Class)),
			slog.String("document", item.DocumentID),
			slog.String("outcome", string(item.Outcome)),
			slog.String("error", item.Error),
		)
	}
	logger.Info("sweep completed",
		slog.Int("attempted", report.Attempted),
		slog.Int("acknowledged", report.Acknowledged),
		slog.Int("pending", report.Pending),
		slog.Int("failed", report.Failed),
		slog.Int("stock_master_pending", report.StockMaster.Pending),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return nil
}

// Registration binds the job to its task type.
func (j *SweepJob) Registration() TaskHandler {
	return TaskHandler{Type: TaskFiscalSweep, Handler: j.Handle}
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
