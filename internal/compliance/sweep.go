package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

type sweepTarget struct {
	class fiscal.Class
	id    string
}

// Sweep resubmits every entry still waiting for an acknowledgement, then
// walks every document of the source ledger so that documents without an
// entry are submitted too. Unchanged acknowledged documents are no-ops.
// Items are processed serially; a failing item is reported and never
// stops the sweep. Queued stock master levels are pushed last. Only a
// failure to list the work returns an error.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{StartedAt: s.now()}

	targets, err := s.sweepTargets(ctx)
	if err != nil {
		report.FinishedAt = s.now()
		return report, err
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = s.now()
			return report, err
		}
		item := s.sweepOne(ctx, target)
		report.add(item)
	}
	if s.stock != nil {
		stock, err := s.stock.Flush(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "stock master flush failed", slog.Any("error", err))
		}
		report.StockMaster = stock
	}

	report.FinishedAt = s.now()
	s.logger.InfoContext(ctx, "retry sweep finished",
		slog.Int("attempted", report.Attempted),
		slog.Int("acknowledged", report.Acknowledged),
		slog.Int("pending", report.Pending),
		slog.Int("rejected", report.Rejected),
		slog.Int("failed", report.Failed),
		slog.Int("stock_master_pending", report.StockMaster.Pending),
	)
	return report, nil
}

func (s *Service) sweepTargets(ctx context.Context) ([]sweepTarget, error) {
	entries, err := s.store.ListRetryable(ctx, s.cfg.SweepLimit)
	if err != nil {
		return nil, fmt.Errorf("compliance: list retryable: %w", err)
	}
	seen := make(map[sweepTarget]struct{}, len(entries))
	out := make([]sweepTarget, 0, len(entries))
	push := func(t sweepTarget) {
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, e := range entries {
		push(sweepTarget{class: e.Class, id: e.SourceDocumentID})
	}

	for _, class := range fiscal.Classes {
		ids, err := s.docs.ListIDs(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("compliance: list %s documents: %w", class, err)
		}
		for _, id := range ids {
			push(sweepTarget{class: class, id: id})
		}
	}
	return out, nil
}

func (s *Service) sweepOne(ctx context.Context, target sweepTarget) (item SweepItem) {
	item = SweepItem{Class: target.class, DocumentID: target.id}
	defer func() {
		if r := recover(); r != nil {
			item.Outcome = ""
			msg, _, _ := strings.Cut(fmt.Sprint(r), "\n")
			item.Error = "panic: " + msg
			s.logger.ErrorContext(ctx, "sweep item panicked",
				slog.String("class", string(target.class)),
				slog.String("document", target.id),
				slog.Any("panic", r),
			)
		}
	}()

	res, err := s.Submit(ctx, target.class, target.id)
	item.Outcome = res.Outcome
	item.Sequence = res.Entry.SequenceNo
	switch {
	case err != nil:
		item.Error = err.Error()
		var exhausted *DuplicateExhaustedError
		if errors.Is(err, ErrAwaitingOriginal) {
			break
		}
		if !errors.As(err, &exhausted) {
			item.Outcome = ""
		}
		s.logger.WarnContext(ctx, "sweep item failed",
			slog.String("class", string(target.class)),
			slog.String("document", target.id),
			slog.Any("error", err),
		)
	case res.Warning != nil:
		item.Error = res.Warning.Detail
	}
	return item
}
