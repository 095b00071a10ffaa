package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"queuectl/internal/jobs"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <json>",
		Short: "Submit a job",
		Long: `Submit a job described as JSON:

  {"id": "job1", "command": "echo hi", "max_retries": 3, "run_at": "2026-01-02T15:04:05Z"}

id and command are required. max_retries defaults to the max-retries setting.
run_at accepts RFC 3339, "YYYY-MM-DD HH:MM:SS" (UTC), or epoch seconds.
Pass "-" to read the JSON from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[0])
			if args[0] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read job from stdin: %w", err)
				}
				payload = data
			}
			req, err := jobs.ParseRequest(payload)
			if err != nil {
				return err
			}
			return ctx.withEngine(func(engine *jobs.Engine) error {
				job, err := engine.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx, job, func(out io.Writer) error {
					fmt.Fprintf(out, "Enqueued job %s (max retries %d, runs at %s)\n",
						job.ID, job.MaxRetries, formatUnix(job.RunAt))
					return nil
				})
			})
		},
	}
}
