// Package worker runs the claim/execute/report loop of a queue worker process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"queuectl/internal/jobs"
	"queuectl/internal/logging"
	"queuectl/internal/queue"
	"queuectl/internal/shell"
)

// DefaultPollInterval is how long an idle worker waits before polling again.
const DefaultPollInterval = 500 * time.Millisecond

// Lifecycle is the subset of jobs.Engine a worker drives.
type Lifecycle interface {
	ClaimNext(ctx context.Context, workerID string) (*queue.Job, bool, error)
	Complete(ctx context.Context, id string) error
	FailAndRetry(ctx context.Context, job *queue.Job, message string) (jobs.Outcome, error)
}

// Runner executes a job command.
type Runner interface {
	Run(ctx context.Context, command string) shell.Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, command string) shell.Result

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, command string) shell.Result {
	return f(ctx, command)
}

// Counts tallies what a worker has processed.
type Counts struct {
	Succeeded    int
	Retried      int
	DeadLettered int
	// Discarded counts outcomes dropped because the job left processing
	// while it ran.
	Discarded int
}

// Worker claims jobs one at a time and reports their outcome.
type Worker struct {
	id           string
	lifecycle    Lifecycle
	runner       Runner
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	counts Counts
}

// Option customizes a Worker.
type Option func(*Worker)

// WithID overrides the generated worker id.
func WithID(id string) Option {
	return func(w *Worker) {
		if id != "" {
			w.id = id
		}
	}
}

// WithPollInterval sets the idle wait between polls.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New constructs a Worker.
func New(lifecycle Lifecycle, runner Runner, opts ...Option) *Worker {
	w := &Worker{
		id:           uuid.NewString(),
		lifecycle:    lifecycle,
		runner:       runner,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "worker").With(logging.String(logging.FieldWorkerID, w.id))
	return w
}

// ID returns the worker id recorded as claimed_by.
func (w *Worker) ID() string {
	return w.id
}

// Counts returns the outcome tallies so far.
func (w *Worker) Counts() Counts {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts
}

func (w *Worker) tally(fn func(*Counts)) {
	w.mu.Lock()
	fn(&w.counts)
	w.mu.Unlock()
}

// Run loops until ctx is cancelled. Cancellation is only observed between
// jobs: a running command and the report of its outcome always finish. A store
// error ends the loop and is returned, except when the job left processing
// while it ran; that outcome is logged and dropped.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		logging.Duration("poll_interval", w.pollInterval),
		logging.String(logging.FieldEventType, "worker_started"),
	)
	defer func() {
		counts := w.Counts()
		w.logger.Info("worker stopped",
			logging.Int("succeeded", counts.Succeeded),
			logging.Int("retried", counts.Retried),
			logging.Int("dead_lettered", counts.DeadLettered),
			logging.Int("discarded", counts.Discarded),
			logging.String(logging.FieldEventType, "worker_stopped"),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Claim, execution and reporting ignore cancellation once started.
		work := context.WithoutCancel(ctx)
		job, ok, err := w.lifecycle.ClaimNext(work, w.id)
		if err != nil {
			logging.ErrorWithContext(w.logger, "failed to claim next job", "job_claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			return fmt.Errorf("claim job: %w", err)
		}
		if !ok {
			w.waitForJobOrShutdown(ctx)
			continue
		}

		if err := w.process(work, job); err != nil {
			return err
		}
	}
}

func (w *Worker) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) error {
	logger := w.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("attempt", job.Attempts+1),
	)
	logger.Info("job started",
		logging.String("command", job.Command),
		logging.String(logging.FieldEventType, "job_started"),
	)

	result := w.runner.Run(ctx, job.Command)
	if result.Success() {
		err := w.lifecycle.Complete(ctx, job.ID)
		if claimLost(err) {
			w.warnClaimLost(logger, err)
			return nil
		}
		if err != nil {
			logging.ErrorWithContext(logger, "failed to record job completion", "job_complete_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run 'queuectl recover' after fixing database access"),
			)
			return fmt.Errorf("complete job %q: %w", job.ID, err)
		}
		w.tally(func(c *Counts) { c.Succeeded++ })
		logger.Info("job completed",
			logging.Duration("duration", result.Duration),
			logging.String(logging.FieldEventType, "job_completed"),
		)
		return nil
	}

	message := result.FailureMessage()
	outcome, err := w.lifecycle.FailAndRetry(ctx, job, message)
	if claimLost(err) {
		w.warnClaimLost(logger, err)
		return nil
	}
	if err != nil {
		logging.ErrorWithContext(logger, "failed to record job failure", "job_fail_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run 'queuectl recover' after fixing database access"),
		)
		return fmt.Errorf("record failure of job %q: %w", job.ID, err)
	}
	w.tally(func(c *Counts) {
		if outcome.Exhausted {
			c.DeadLettered++
		} else {
			c.Retried++
		}
	})
	logger.Warn("job failed",
		logging.Int("exit_code", result.ExitCode),
		logging.Duration("duration", result.Duration),
		logging.Bool("dead_lettered", outcome.Exhausted),
		logging.String("error", queue.TruncateError(message)),
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String(logging.FieldErrorHint, "inspect the command's stderr in last_error"),
		logging.String(logging.FieldImpact, impactFor(outcome)),
	)
	return nil
}

func impactFor(outcome jobs.Outcome) string {
	if outcome.Exhausted {
		return "job moved to the dead-letter queue"
	}
	return fmt.Sprintf("job retries at %s", outcome.RunAt.Format(time.RFC3339))
}

// claimLost reports that the job was moved out of processing by someone else,
// for example `recover` or `reset`, while this worker was running it.
func claimLost(err error) bool {
	return errors.Is(err, queue.ErrStateConflict) || errors.Is(err, queue.ErrNotFound)
}

func (w *Worker) warnClaimLost(logger *slog.Logger, err error) {
	w.tally(func(c *Counts) { c.Discarded++ })
	logging.WarnWithContext(logger, "job changed state while running; outcome discarded", "job_claim_lost",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "avoid 'queuectl recover' while workers are running"),
		logging.String(logging.FieldImpact, "the job's current state is kept"),
	)
}
