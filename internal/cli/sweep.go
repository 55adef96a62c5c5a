package cli

import (
	"github.com/spf13/cobra"
)

type sweepOptions struct {
	*RootOptions
	Sync bool
}

func newSweepCommand(root *RootOptions) *cobra.Command {
	opts := &sweepOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Resubmit every unacknowledged entry",
		Long: `Queue a retry sweep on the worker, or run it in process with --sync.

Exit codes:
  0 - queued, or every item acknowledged with --sync
  1 - some items are still pending, rejected or failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "run the sweep in process")
	return cmd
}

func runSweep(opts *sweepOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	env, closeFn, err := opts.env(ctx, opts.Sync)
	if err != nil {
		return err
	}
	defer closeFn()
	p := opts.printer(cmd)

	if !opts.Sync {
		info, err := env.Queue.EnqueueSweep(ctx, "cli")
		if err != nil {
			return WrapExitError(ExitCommandError, "enqueue sweep", err)
		}
		return printEnqueued(p, info)
	}

	report, err := env.Pipeline.Sweep(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "sweep", err)
	}
	if p.json() {
		if err := p.emit(report); err != nil {
			return err
		}
	} else {
		p.linef("attempted %d: acknowledged %d, unchanged %d, pending %d, rejected %d, waiting %d, failed %d",
			report.Attempted, report.Acknowledged, report.Unchanged, report.Pending, report.Rejected, report.Waiting, report.Failed)
		if sm := report.StockMaster; sm.Pushed+sm.Pending > 0 {
			p.linef("stock master: pushed %d, pending %d", sm.Pushed, sm.Pending)
		}
		for _, item := range report.Items {
			if item.Error == "" {
				continue
			}
			p.linef("  %s %s: %s", item.Class, item.DocumentID, item.Error)
		}
	}
	if report.Pending+report.Rejected+report.Waiting+report.Failed+report.StockMaster.Pending > 0 {
		return &ExitError{Code: ExitFailure, Message: "sweep left unacknowledged items"}
	}
	return nil
}
