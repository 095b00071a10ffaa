package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"queuectl/internal/config"
	"queuectl/internal/jobs"
	"queuectl/internal/preflight"
	"queuectl/internal/queue"
	"queuectl/internal/supervisor"
)

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return jobs stuck in processing to pending",
		Long: `Return jobs stuck in processing to pending without touching their attempts.

Only run this when no workers are running, for example after a crash or a
forced stop; a running worker's job would otherwise be executed twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *jobs.Engine) error {
				count, err := engine.Recover(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d job(s)\n", count)
				return nil
			})
		},
	}
}

func newClearCompletedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete completed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *jobs.Engine) error {
				count, err := engine.ClearCompleted(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed job(s)\n", count)
				return nil
			})
		},
	}
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Stop all workers and delete the queue database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			result, err := sup.Stop(cmd.Context(), force)
			switch {
			case errors.Is(err, supervisor.ErrNoWorkers):
			case err != nil:
				return fmt.Errorf("stop workers: %w", err)
			default:
				printStopResult(cmd, result)
			}
			if len(result.Running) > 0 {
				return fmt.Errorf("workers %v are still finishing their current job; retry once they exit or use --force", result.Running)
			}

			removed, err := removeDatabaseFiles(cfg.Paths.Database)
			if err != nil {
				return err
			}
			if removed == 0 {
				fmt.Fprintln(out, "No existing database found")
				return nil
			}
			fmt.Fprintln(out, "Queue database reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Kill workers that are still running a job after the grace period")
	return cmd
}

// removeDatabaseFiles deletes the database along with its WAL and shared
// memory files.
func removeDatabaseFiles(path string) (int, error) {
	removed := 0
	for _, name := range []string{path, path + "-wal", path + "-shm"} {
		err := os.Remove(name)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			return removed, fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return removed, nil
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the queue database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			health := queue.DatabaseHealth{DBPath: cfg.Paths.Database}
			if _, statErr := os.Stat(cfg.Paths.Database); statErr == nil {
				health.DatabaseExists = true
				err = ctx.withStore(func(_ *config.Config, store *queue.Store) error {
					var checkErr error
					health, checkErr = store.CheckHealth(cmd.Context())
					return checkErr
				})
				if err != nil && health.Error == "" {
					health.Error = err.Error()
				}
			}

			report := healthReport{Database: health, Checks: preflight.RunAll(cfg)}
			if err := writeOutput(cmd, ctx, report, func(out io.Writer) error {
				renderHealth(out, report, shouldColorize(out))
				return nil
			}); err != nil {
				return err
			}
			if health.DatabaseExists && !health.Healthy() {
				return errors.New("queue database is unhealthy")
			}
			if failed := preflight.Failed(report.Checks); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
}

type healthReport struct {
	Database queue.DatabaseHealth `json:"database" yaml:"database"`
	Checks   []preflight.Result   `json:"checks" yaml:"checks"`
}

func renderHealth(out io.Writer, report healthReport, colorize bool) {
	for _, check := range report.Checks {
		fmt.Fprintln(out, renderStatusLine(check.Name, okOrError(check.Passed), check.Detail, colorize))
	}

	health := report.Database
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, health.DBPath, colorize))
	if !health.DatabaseExists {
		fmt.Fprintln(out, renderStatusLine("Exists", statusWarn, "not created yet; enqueue a job to create it", colorize))
		return
	}
	fmt.Fprintln(out, renderStatusLine("Readable", okOrError(health.DatabaseReadable), "", colorize))
	fmt.Fprintln(out, renderStatusLine("Schema version", statusInfo, strconv.Itoa(health.SchemaVersion), colorize))
	journalKind := statusOK
	if !strings.EqualFold(health.JournalMode, "wal") {
		journalKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Journal mode", journalKind, health.JournalMode, colorize))
	if len(health.MissingTables) > 0 {
		fmt.Fprintln(out, renderStatusLine("Tables", statusError, "missing "+strings.Join(health.MissingTables, ", "), colorize))
	}
	if len(health.MissingColumns) > 0 {
		fmt.Fprintln(out, renderStatusLine("Columns", statusError, "missing "+strings.Join(health.MissingColumns, ", "), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Integrity", okOrError(health.IntegrityCheck), "", colorize))
	fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, strconv.Itoa(health.TotalJobs), colorize))
	if health.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, health.Error, colorize))
	}
}
