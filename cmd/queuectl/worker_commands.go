package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"queuectl/internal/logging"
	"queuectl/internal/queue"
	"queuectl/internal/shell"
	"queuectl/internal/supervisor"
	"queuectl/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Start, stop, or run workers",
	}
	workerCmd.AddCommand(newWorkerStartCommand(ctx))
	workerCmd.AddCommand(newWorkerStopCommand(ctx))
	workerCmd.AddCommand(newWorkerRunCommand(ctx))
	return workerCmd
}

func newWorkerStartCommand(ctx *commandContext) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			pids, err := sup.Start(cmd.Context(), count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %d worker(s). PID file: %s\n", len(pids), sup.PIDPath())
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of workers to launch")
	return cmd
}

func newWorkerStopCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop background workers after their current job",
		Long: `Signal every background worker to exit once its current job is done.

Workers that are still running a job after worker.stop_grace_seconds keep
running until the job finishes. With --force they are killed instead, which
leaves their job in processing until ` + "`queuectl recover`" + ` is run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.supervisor()
			if err != nil {
				return err
			}
			result, err := sup.Stop(cmd.Context(), force)
			out := cmd.OutOrStdout()
			if errors.Is(err, supervisor.ErrNoWorkers) {
				fmt.Fprintln(out, "No workers running.")
				return nil
			}
			if err != nil {
				return err
			}
			printStopResult(cmd, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Kill workers that are still running a job after the grace period")
	return cmd
}

func printStopResult(cmd *cobra.Command, result supervisor.StopResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Stopped %d worker(s)", len(result.Stopped))
	if len(result.Gone) > 0 {
		fmt.Fprintf(out, "; %d had already exited", len(result.Gone))
	}
	fmt.Fprintln(out)
	if len(result.Running) > 0 {
		fmt.Fprintf(out, "%d worker(s) still finishing their current job: %v. They exit when it is done.\n", len(result.Running), result.Running)
	}
	if len(result.Killed) > 0 {
		fmt.Fprintf(out, "Killed %d worker(s) that did not exit in time: %v\n", len(result.Killed), result.Killed)
		fmt.Fprintln(out, "Run `queuectl recover` to requeue the jobs they were running.")
	}
}

func newWorkerRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "Run a worker in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkerProcess(cmd, ctx)
		},
	}
}

func runWorkerProcess(cmd *cobra.Command, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logPath, eventsPath := logging.WorkerLogPaths(cfg.Paths.LogDir, os.Getpid())
	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{"stderr"},
		EventPaths:       []string{eventsPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "worker-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "worker-*.events", Exclude: []string{eventsPath}},
	)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	executor := shell.Executor{
		Shell:   cfg.Worker.Shell,
		Timeout: cfg.JobTimeout(),
		Stdout:  cmd.OutOrStdout(),
	}
	w := worker.New(newEngine(cfg, store, logger), executor,
		worker.WithPollInterval(cfg.PollInterval()),
		worker.WithLogger(logger.With(logging.Int("pid", os.Getpid()))),
	)
	return w.Run(logging.WithWorkerID(signalCtx, w.ID()))
}
