package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"queuectl/internal/jobs"
	"queuectl/internal/queue"
)

func newDLQCommand(ctx *commandContext) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry dead-letter jobs",
	}
	dlqCmd.AddCommand(newDLQListCommand(ctx))
	dlqCmd.AddCommand(newDLQRetryCommand(ctx))
	return dlqCmd
}

func newDLQListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead-letter jobs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []queue.DeadLetter
			err := ctx.withEngine(func(engine *jobs.Engine) error {
				var err error
				entries, err = engine.DeadLetters(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			return writeOutput(cmd, ctx, entries, func(out io.Writer) error {
				if len(entries) == 0 {
					fmt.Fprintln(out, "Dead-letter queue is empty")
					return nil
				}
				fmt.Fprint(out, renderDeadLetterTable(entries))
				return nil
			})
		},
	}
}

func newDLQRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a dead-letter job back to pending with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *jobs.Engine) error {
				job, err := engine.RequeueDeadLetter(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx, job, func(out io.Writer) error {
					fmt.Fprintf(out, "Moved job %s back to pending\n", job.ID)
					return nil
				})
			})
		},
	}
}
