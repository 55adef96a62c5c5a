package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/fiscalbridge/internal/compliance"
)

type submitOptions struct {
	*RootOptions
	Sync bool
}

func newSubmitCommand(root *RootOptions) *cobra.Command {
	opts := &submitOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "submit <class> <document-id>",
		Short: "Submit one source document",
		Long: `Queue the submission of a source document, or run it in process with
--sync. Classes: sale, purchase, stock_movement, catalog_item.

Exit codes:
  0 - queued, or acknowledged with --sync
  1 - pending or rejected by the gateway
  2 - the document is invalid or the command could not run`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd, args)
		},
	}
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "submit in process and wait for the gateway")
	return cmd
}

type submitView struct {
	Class      string       `json:"class"`
	DocumentID string       `json:"document_id"`
	Outcome    string       `json:"outcome"`
	Sequence   int64        `json:"sequence"`
	Replayed   bool         `json:"replayed,omitempty"`
	Renumbered int          `json:"renumbered,omitempty"`
	Warning    *warningView `json:"warning,omitempty"`
}

type warningView struct {
	Kind   string `json:"kind"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func runSubmit(opts *submitOptions, cmd *cobra.Command, args []string) error {
	class, id, err := parseTarget(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	env, closeFn, err := opts.env(ctx, opts.Sync)
	if err != nil {
		return err
	}
	defer closeFn()
	p := opts.printer(cmd)

	if !opts.Sync {
		info, err := env.Queue.EnqueueSubmit(ctx, class, id)
		if err != nil {
			return WrapExitError(ExitCommandError, "enqueue submit", err)
		}
		return printEnqueued(p, info)
	}

	res, err := env.Pipeline.Submit(ctx, class, id)
	var exhausted *compliance.DuplicateExhaustedError
	switch {
	case errors.As(err, &exhausted):
		return WrapExitError(ExitFailure, "submit", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "submit", err)
	}

	view := submitView{
		Class:      string(res.Class),
		DocumentID: res.DocumentID,
		Outcome:    string(res.Outcome),
		Sequence:   res.Entry.SequenceNo,
		Replayed:   res.Replayed,
		Renumbered: res.Renumbered,
	}
	if w := res.Warning; w != nil {
		view.Warning = &warningView{Kind: w.Kind.String(), Code: w.Code, Detail: w.Detail}
	}
	if p.json() {
		if err := p.emit(view); err != nil {
			return err
		}
	} else {
		p.linef("%s %s: %s (sequence %d)", view.Class, view.DocumentID, view.Outcome, view.Sequence)
		if view.Renumbered > 0 {
			p.linef("renumbered %d time(s) after duplicate collisions", view.Renumbered)
		}
		if view.Warning != nil {
			p.linef("warning: %s %s %s", view.Warning.Kind, view.Warning.Code, view.Warning.Detail)
		}
	}
	if res.Warning != nil {
		return &ExitError{Code: ExitFailure, Message: "submission not acknowledged"}
	}
	return nil
}
