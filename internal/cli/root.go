// Package cli implements fiscalctl, the operator command line of the fiscal
// submission pipeline.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/fiscalbridge/internal/compliance"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
	"github.com/odyssey-erp/fiscalbridge/jobs"
)

// Queue enqueues pipeline work on the worker.
type Queue interface {
	EnqueueSubmit(ctx context.Context, class fiscal.Class, documentID string) (*asynq.TaskInfo, error)
	EnqueueSweep(ctx context.Context, trigger string) (*asynq.TaskInfo, error)
}

// Pipeline runs submissions in process.
type Pipeline interface {
	Submit(ctx context.Context, class fiscal.Class, documentID string) (compliance.Result, error)
	Sweep(ctx context.Context) (compliance.SweepReport, error)
	History(ctx context.Context, class fiscal.Class, documentID string) ([]ledger.Entry, error)
	Reprint(ctx context.Context, class fiscal.Class, documentID string) (ledger.Entry, error)
}

// Env is what a command talks to. Fields a command does not need may be nil.
type Env struct {
	Queue     Queue
	Pipeline  Pipeline
	Inspector jobs.QueueInspector
	Close     func()
}

// Opener connects the environment. inline asks for an in-process pipeline.
type Opener func(ctx context.Context, inline bool) (*Env, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	open   Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the fiscalctl root command.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "fiscalctl",
		Short: "Operate the fiscal submission pipeline",
		Long: `fiscalctl queues submissions and retry sweeps on the worker, runs them
in process with --sync, and reads the submission log.

Configuration is read from the same environment variables as the worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newReprintCommand(opts))
	return cmd
}

func (o *RootOptions) env(ctx context.Context, inline bool) (*Env, func(), error) {
	env, err := o.open(ctx, inline)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "connect", err)
	}
	closeFn := func() {
		if env.Close != nil {
			env.Close()
		}
	}
	return env, closeFn, nil
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}

func parseTarget(args []string) (fiscal.Class, string, error) {
	class, err := fiscal.ParseClass(args[0])
	if err != nil {
		return "", "", WrapExitError(ExitCommandError, "invalid class", err)
	}
	return class, args[1], nil
}

type enqueued struct {
	TaskID    string `json:"task_id,omitempty"`
	Queue     string `json:"queue,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func printEnqueued(p printer, info *asynq.TaskInfo) error {
	if info == nil {
		if p.json() {
			return p.emit(enqueued{Duplicate: true})
		}
		p.linef("identical task already queued")
		return nil
	}
	if p.json() {
		return p.emit(enqueued{TaskID: info.ID, Queue: info.Queue})
	}
	p.linef("queued %s on %s", info.ID, info.Queue)
	return nil
}
