package cli

import (
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/fiscalbridge/jobs"
)

func newQueueCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the fiscal queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, closeFn, err := root.env(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			health, err := jobs.ReadQueueHealth(env.Inspector)
			if err != nil {
				return WrapExitError(ExitCommandError, "inspect queue", err)
			}
			p := root.printer(cmd)
			if p.json() {
				return p.emit(health)
			}
			p.linef("queue %s: pending %d, active %d, scheduled %d, archived %d, paused %t",
				health.Queue, health.Pending, health.Active, health.Scheduled, health.Archived, health.Paused)
			return nil
		},
	}
}
