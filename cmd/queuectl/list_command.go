package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"queuectl/internal/jobs"
	"queuectl/internal/queue"
)

const (
	commandColumnWidth = 40
	errorColumnWidth   = 50
)

type listReport struct {
	Jobs        []queue.Job        `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	DeadLetters []queue.DeadLetter `json:"dead_letters,omitempty" yaml:"dead_letters,omitempty"`
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var stateFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		Long:  "List jobs. --state accepts pending, processing, completed, or dead (the dead-letter queue).",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter queue.State
			if stateFlag != "" {
				state, ok := queue.ParseState(stateFlag)
				if !ok {
					return fmt.Errorf("unknown state %q (want pending, processing, completed, or dead)", stateFlag)
				}
				filter = state
			}

			var report listReport
			err := ctx.withEngine(func(engine *jobs.Engine) error {
				var err error
				if filter != queue.StateDead {
					var states []queue.State
					if filter != "" {
						states = append(states, filter)
					}
					if report.Jobs, err = engine.List(cmd.Context(), states...); err != nil {
						return err
					}
				}
				if filter == "" || filter == queue.StateDead {
					if report.DeadLetters, err = engine.DeadLetters(cmd.Context()); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			return writeOutput(cmd, ctx, report, func(out io.Writer) error {
				colorize := shouldColorize(out)
				if filter != queue.StateDead {
					if len(report.Jobs) == 0 {
						fmt.Fprintln(out, "No jobs found")
					} else {
						fmt.Fprint(out, renderJobTable(report.Jobs, colorize))
					}
				}
				if filter == "" || filter == queue.StateDead {
					if len(report.DeadLetters) == 0 {
						fmt.Fprintln(out, "Dead-letter queue is empty")
					} else {
						fmt.Fprint(out, renderDeadLetterTable(report.DeadLetters))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&stateFlag, "state", "s", "", "Filter by state")
	return cmd
}

func renderJobTable(items []queue.Job, colorize bool) string {
	rows := make([][]string, 0, len(items))
	for _, job := range items {
		rows = append(rows, []string{
			job.ID,
			colorState(string(job.State), colorize),
			strconv.Itoa(job.Attempts),
			strconv.Itoa(job.MaxRetries),
			truncate(job.Command, commandColumnWidth),
			formatUnix(job.RunAt),
			truncate(job.LastError, errorColumnWidth),
		})
	}
	return renderTable(
		[]string{"ID", "State", "Attempts", "Max Retries", "Command", "Run At", "Last Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func renderDeadLetterTable(entries []queue.DeadLetter) string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.ID,
			strconv.Itoa(entry.Attempts),
			truncate(entry.Command, commandColumnWidth),
			formatUnix(entry.FailedAt),
			truncate(entry.LastError, errorColumnWidth),
		})
	}
	return renderTable(
		[]string{"ID", "Attempts", "Command", "Failed At", "Last Error"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}
