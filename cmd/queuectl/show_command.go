package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"queuectl/internal/jobs"
	"queuectl/internal/queue"
)

type showReport struct {
	Job        *queue.Job        `json:"job,omitempty" yaml:"job,omitempty"`
	DeadLetter *queue.DeadLetter `json:"dead_letter,omitempty" yaml:"dead_letter,omitempty"`
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job or dead-letter entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var report showReport
			err := ctx.withEngine(func(engine *jobs.Engine) error {
				job, err := engine.Get(cmd.Context(), id)
				if err == nil {
					report.Job = job
					return nil
				}
				if !errors.Is(err, queue.ErrNotFound) {
					return err
				}
				entry, err := engine.GetDeadLetter(cmd.Context(), id)
				if err != nil {
					return err
				}
				report.DeadLetter = entry
				return nil
			})
			if err != nil {
				return err
			}
			return writeOutput(cmd, ctx, report, func(out io.Writer) error {
				renderShow(out, report, shouldColorize(out))
				return nil
			})
		},
	}
}

func renderShow(out io.Writer, report showReport, colorize bool) {
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(out, "%-12s %s\n", label+":", value)
	}
	if job := report.Job; job != nil {
		field("ID", job.ID)
		field("State", colorState(string(job.State), colorize))
		field("Command", job.Command)
		field("Attempts", fmt.Sprintf("%d of %d retries used", job.Attempts, job.MaxRetries))
		field("Run at", formatUnix(job.RunAt))
		field("Created", formatUnix(job.CreatedAt))
		field("Updated", formatUnix(job.UpdatedAt))
		field("Claimed by", job.ClaimedBy)
		field("Last error", job.LastError)
		return
	}
	if entry := report.DeadLetter; entry != nil {
		field("ID", entry.ID)
		field("State", colorState(string(queue.StateDead), colorize))
		field("Command", entry.Command)
		field("Attempts", strconv.Itoa(entry.Attempts))
		field("Max retries", strconv.Itoa(entry.MaxRetries))
		field("Failed at", formatUnix(entry.FailedAt))
		field("Last error", entry.LastError)
	}
}
