package cli

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
)

type entryRow struct {
	ID           uuid.UUID       `json:"id"`
	Sequence     int64           `json:"sequence"`
	Revision     int             `json:"revision"`
	Status       string          `json:"status"`
	ResultCode   string          `json:"result_code,omitempty"`
	ErrorDetail  string          `json:"error_detail,omitempty"`
	Terminal     bool            `json:"terminal,omitempty"`
	Attempts     int             `json:"attempts"`
	PrintCount   int             `json:"print_count"`
	SupersededBy *uuid.UUID      `json:"superseded_by,omitempty"`
	Receipt      json.RawMessage `json:"receipt,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newEntryRow(e ledger.Entry) entryRow {
	return entryRow{
		ID:           e.ID,
		Sequence:     e.SequenceNo,
		Revision:     e.SourceRevision,
		Status:       string(e.Status),
		ResultCode:   e.ResultCode,
		ErrorDetail:  e.ErrorDetail,
		Terminal:     e.Terminal,
		Attempts:     e.Attempts,
		PrintCount:   e.PrintCount,
		SupersededBy: e.SupersededBy,
		Receipt:      e.GatewayFields,
		CreatedAt:    e.CreatedAt,
	}
}

func (p printer) entry(e ledger.Entry) {
	state := "active"
	if !e.Active() {
		state = "superseded"
	}
	line := "#%d rev %d %s (%s) attempts %d"
	args := []any{e.SequenceNo, e.SourceRevision, e.Status, state, e.Attempts}
	if e.ResultCode != "" {
		line += " code %s"
		args = append(args, e.ResultCode)
	}
	if e.ErrorDetail != "" {
		line += ": %s"
		args = append(args, e.ErrorDetail)
	}
	p.linef(line, args...)
}

func newHistoryCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <class> <document-id>",
		Short: "List the submission log entries of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			class, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			env, closeFn, err := root.env(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := env.Pipeline.History(cmd.Context(), class, id)
			if err != nil {
				return WrapExitError(ExitCommandError, "history", err)
			}
			if len(entries) == 0 {
				return &ExitError{Code: ExitFailure, Message: "no submissions for " + string(class) + " " + id}
			}
			p := root.printer(cmd)
			if p.json() {
				rows := make([]entryRow, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, newEntryRow(e))
				}
				return p.emit(rows)
			}
			for _, e := range entries {
				p.entry(e)
			}
			return nil
		},
	}
}

func newReprintCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reprint <class> <document-id>",
		Short: "Count a receipt reprint of an acknowledged document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			class, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			env, closeFn, err := root.env(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()

			entry, err := env.Pipeline.Reprint(cmd.Context(), class, id)
			if err != nil {
				return WrapExitError(ExitFailure, "reprint", err)
			}
			p := root.printer(cmd)
			if p.json() {
				return p.emit(newEntryRow(entry))
			}
			p.linef("%s %s: print count %d", class, id, entry.PrintCount)
			if r, err := entry.Receipt(); err == nil && r.ReceiptNo > 0 {
				p.linef("receipt %d/%d sdc %s signature %s", r.ReceiptNo, r.TotalReceiptNo, r.SDCID, r.ReceiptSign)
			}
			return nil
		},
	}
}
