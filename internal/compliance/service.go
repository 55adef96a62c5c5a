// Package compliance drives documents through the fiscal submission
// pipeline: prepare the payload, allocate a sequence, send it, and record
// the outcome in the submission log.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/gateway"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
	"github.com/odyssey-erp/fiscalbridge/internal/payload"
	"github.com/odyssey-erp/fiscalbridge/internal/shared"
	"github.com/odyssey-erp/fiscalbridge/internal/stockmaster"
)

// DefaultMaxDuplicateAttempts bounds the renumber-and-resend loop. The bound
// counts sends answered as duplicates, so N sends allow N-1 renumbers.
const DefaultMaxDuplicateAttempts = 5

// Documents is the read-only accessor of the source ledger.
type Documents interface {
	Get(ctx context.Context, class fiscal.Class, id string) (fiscal.Document, error)
	ListIDs(ctx context.Context, class fiscal.Class) ([]string, error)
}

// Preparer builds payload drafts.
type Preparer interface {
	Prepare(ctx context.Context, doc fiscal.Document) (*payload.Draft, error)
}

// AuditSink receives operator-visible failures.
type AuditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockLevels pushes item balances after acknowledged stock movements.
type StockLevels interface {
	Publish(ctx context.Context, doc fiscal.Document) (stockmaster.Report, error)
	Flush(ctx context.Context) (stockmaster.Report, error)
}

// Recorder receives submission metrics.
type Recorder interface {
	ObserveSubmission(class fiscal.Class, outcome string)
	ObserveRenumber(class fiscal.Class)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSubmission(fiscal.Class, string) {}
func (nopRecorder) ObserveRenumber(fiscal.Class)           {}

type nopAudit struct{}

func (nopAudit) Record(context.Context, shared.AuditLog) error { return nil }

// Config tunes the service.
type Config struct {
	// MaxDuplicateAttempts caps the sends of one Submit answered with 924.
	MaxDuplicateAttempts int
	// SweepLimit caps the entries a sweep picks up, 0 for all.
	SweepLimit int
}

// Service is the submission pipeline of one tenant branch.
type Service struct {
	docs     Documents
	builder  Preparer
	alloc    *ledger.Allocator
	store    ledger.Store
	sender   gateway.Sender
	stock    StockLevels
	audit    AuditSink
	metrics  Recorder
	logger   *slog.Logger
	cfg      Config
	inflight singleflight.Group
	now      func() time.Time
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Documents Documents
	Builder   Preparer
	Allocator *ledger.Allocator
	Sender    gateway.Sender
	// StockLevels is optional.
	StockLevels StockLevels
	Audit       AuditSink
	Metrics     Recorder
	Logger      *slog.Logger
}

// NewService constructs the service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Documents == nil || deps.Builder == nil || deps.Allocator == nil || deps.Sender == nil {
		return nil, errors.New("compliance: documents, builder, allocator and sender are required")
	}
	if cfg.MaxDuplicateAttempts <= 0 {
		cfg.MaxDuplicateAttempts = DefaultMaxDuplicateAttempts
	}
	s := &Service{
		docs:    deps.Documents,
		builder: deps.Builder,
		alloc:   deps.Allocator,
		store:   deps.Allocator.Store(),
		sender:  deps.Sender,
		stock:   deps.StockLevels,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if s.audit == nil {
		s.audit = nopAudit{}
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Submit pushes the current revision of a document to the gateway.
//
// Validation failures return an error wrapping ErrValidation and persist
// nothing. Business rejections and unreachable gateways are recorded and
// reported through Result.Warning with a nil error; the retry sweep picks
// them up later. *DuplicateExhaustedError is returned when renumbering
// does not resolve a duplicate collision. A reversal whose original is not
// acknowledged yet returns ErrAwaitingOriginal.
func (s *Service) Submit(ctx context.Context, class fiscal.Class, documentID string) (Result, error) {
	key := string(class) + ":" + documentID
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		return s.submit(ctx, class, documentID)
	})
	res, _ := v.(Result)
	return res, err
}

func (s *Service) submit(ctx context.Context, class fiscal.Class, documentID string) (Result, error) {
	if !class.Valid() {
		return Result{}, fmt.Errorf("%w: unknown class %q", ErrValidation, class)
	}
	res := Result{Class: class, DocumentID: documentID}
	logger := s.logger.With(slog.String("class", string(class)), slog.String("document", documentID))

	doc, err := s.docs.Get(ctx, class, documentID)
	if err != nil {
		return res, asValidation(fmt.Errorf("compliance: load %s %s: %w", class, documentID, err))
	}
	if doc.Class == "" {
		doc.Class = class
	}
	if doc.Class != class {
		return res, fmt.Errorf("%w: document %s is a %s, not a %s", ErrValidation, documentID, doc.Class, class)
	}

	active, err := s.store.Active(ctx, class, documentID)
	hasActive := err == nil
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return res, fmt.Errorf("compliance: active entry: %w", err)
	}
	sameRevision := hasActive && doc.Revision <= active.SourceRevision

	if hasActive && active.Acknowledged() && sameRevision {
		res.Outcome = OutcomeAlreadyAcknowledged
		res.Entry = active
		return res, nil
	}

	draft, err := s.builder.Prepare(ctx, doc)
	if errors.Is(err, payload.ErrOriginalNotAcknowledged) {
		res.Outcome = OutcomeAwaitingOriginal
		s.metrics.ObserveSubmission(class, string(OutcomeAwaitingOriginal))
		logger.WarnContext(ctx, "reversal deferred until its original is acknowledged",
			slog.String("original", doc.ReversalOf), slog.Any("error", err))
		return res, fmt.Errorf("%w: %w", ErrAwaitingOriginal, err)
	}
	if err != nil {
		err = asValidation(err)
		if errors.Is(err, ErrValidation) {
			s.metrics.ObserveSubmission(class, "invalid")
			s.record(ctx, doc, "fiscal.submission.invalid", map[string]any{"error": err.Error()})
		}
		return res, err
	}

	var entry ledger.Entry
	switch {
	case hasActive && sameRevision && active.Retryable():
		entry = active
		res.Replayed = true
		logger.InfoContext(ctx, "replaying stored submission", slog.Int64("sequence", entry.SequenceNo))
	case hasActive:
		prior := active
		entry, err = s.alloc.Append(ctx, draft.Ledger(&prior.ID))
		if err != nil {
			return res, fmt.Errorf("compliance: supersede %s: %w", prior.ID, err)
		}
		res.Superseded = &prior
		if prior.Acknowledged() {
			s.record(ctx, doc, "fiscal.submission.superseded", map[string]any{
				"prior_sequence": prior.SequenceNo,
				"sequence":       entry.SequenceNo,
			})
		}
	default:
		entry, err = s.alloc.Append(ctx, draft.Ledger(nil))
		if err != nil {
			return res, fmt.Errorf("compliance: allocate: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		res.Entry = entry
		outcome := s.sender.Send(ctx, class.Endpoint(), entry.Payload)

		switch {
		case outcome.Kind == gateway.Acknowledged:
			if err := s.store.Record(ctx, entry.ID, ledger.Update{
				Status:        ledger.StatusAcknowledged,
				ResultCode:    outcome.Code,
				GatewayFields: outcome.Data,
				At:            s.now(),
			}); err != nil {
				return res, fmt.Errorf("compliance: record acknowledgement: %w", err)
			}
			res.Entry, _ = s.refresh(ctx, entry)
			res.Outcome = OutcomeAcknowledged
			s.metrics.ObserveSubmission(class, string(OutcomeAcknowledged))
			logger.InfoContext(ctx, "submission acknowledged", slog.Int64("sequence", entry.SequenceNo), slog.Int("renumbered", res.Renumbered))
			s.publishStock(ctx, doc, logger)
			return res, nil

		case outcome.IsDuplicate():
			if err := s.store.Record(ctx, entry.ID, ledger.Update{
				Status:      ledger.StatusRejected,
				ResultCode:  outcome.Code,
				ErrorDetail: outcome.Detail(),
				Terminal:    true,
				At:          s.now(),
			}); err != nil {
				return res, fmt.Errorf("compliance: record duplicate: %w", err)
			}
			if attempt >= s.cfg.MaxDuplicateAttempts {
				exhausted := &DuplicateExhaustedError{Class: class, DocumentID: documentID, Attempts: attempt, LastSequence: entry.SequenceNo}
				res.Entry, _ = s.refresh(ctx, entry)
				res.Outcome = OutcomeRejected
				s.metrics.ObserveSubmission(class, "duplicate_exhausted")
				s.record(ctx, doc, "fiscal.submission.duplicate_exhausted", map[string]any{
					"attempts": attempt,
					"sequence": entry.SequenceNo,
				})
				return res, exhausted
			}
			s.metrics.ObserveRenumber(class)
			logger.WarnContext(ctx, "duplicate sequence, renumbering", slog.Int64("sequence", entry.SequenceNo), slog.Int("attempt", attempt))
			next, err := s.alloc.Append(ctx, draft.Ledger(&entry.ID))
			if err != nil {
				return res, fmt.Errorf("compliance: renumber after duplicate %d: %w", entry.SequenceNo, err)
			}
			entry = next
			res.Renumbered++
			res.Replayed = false

		default:
			update := ledger.Update{
				Status:      ledger.StatusPending,
				ResultCode:  outcome.Code,
				ErrorDetail: outcome.Detail(),
				At:          s.now(),
			}
			res.Outcome = OutcomePending
			if outcome.Kind == gateway.Rejected {
				update.Status = ledger.StatusRejected
				res.Outcome = OutcomeRejected
			}
			if err := s.store.Record(ctx, entry.ID, update); err != nil {
				return res, fmt.Errorf("compliance: record %s: %w", outcome.Kind, err)
			}
			res.Entry, _ = s.refresh(ctx, entry)
			res.Warning = &SubmissionWarning{
				Class:      class,
				DocumentID: documentID,
				Sequence:   entry.SequenceNo,
				Kind:       outcome.Kind,
				Code:       outcome.Code,
				Detail:     update.ErrorDetail,
			}
			s.metrics.ObserveSubmission(class, string(res.Outcome))
			logger.WarnContext(ctx, "submission not accepted, left for retry sweep",
				slog.Int64("sequence", entry.SequenceNo),
				slog.String("outcome", outcome.Kind.String()),
				slog.String("detail", update.ErrorDetail),
			)
			if outcome.Kind == gateway.Rejected {
				s.record(ctx, doc, "fiscal.submission.rejected", map[string]any{
					"sequence": entry.SequenceNo,
					"code":     outcome.Code,
					"detail":   update.ErrorDetail,
				})
			}
			return res, nil
		}
	}
}

// publishStock pushes the balances of an acknowledged stock movement.
// Failures stay queued for the sweep and never fail the submission.
func (s *Service) publishStock(ctx context.Context, doc fiscal.Document, logger *slog.Logger) {
	if s.stock == nil || doc.Class != fiscal.ClassStockMovement {
		return
	}
	report, err := s.stock.Publish(ctx, doc)
	if err != nil {
		logger.ErrorContext(ctx, "stock master publish failed", slog.Any("error", err))
		return
	}
	if report.Pending > 0 {
		logger.WarnContext(ctx, "stock master left queued for retry sweep", slog.Int("pending", report.Pending))
	}
}

// Reprint bumps the print counter of the acknowledged entry of a document
// and returns it with its receipt fields.
func (s *Service) Reprint(ctx context.Context, class fiscal.Class, documentID string) (ledger.Entry, error) {
	entry, err := s.store.Active(ctx, class, documentID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if !entry.Acknowledged() {
		return ledger.Entry{}, fmt.Errorf("compliance: %s %s is %s, nothing to print", class, documentID, entry.Status)
	}
	count, err := s.store.IncrementPrintCount(ctx, entry.ID)
	if err != nil {
		return ledger.Entry{}, err
	}
	entry.PrintCount = count
	return entry, nil
}

// History returns the submission chain of a document.
func (s *Service) History(ctx context.Context, class fiscal.Class, documentID string) ([]ledger.Entry, error) {
	return s.store.History(ctx, class, documentID)
}

func (s *Service) refresh(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	fresh, err := s.store.Get(ctx, entry.ID)
	if err != nil {
		return entry, err
	}
	return fresh, nil
}

func (s *Service) record(ctx context.Context, doc fiscal.Document, action string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["class"] = string(doc.Class)
	meta["revision"] = doc.Revision
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    doc.Actor.ID,
		Action:   action,
		Entity:   "fiscal_document",
		EntityID: doc.ID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
