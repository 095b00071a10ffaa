package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"queuectl/internal/backoff"
	"queuectl/internal/logging"
	"queuectl/internal/queue"
)

// Engine applies lifecycle rules to jobs persisted in a queue.Store.
type Engine struct {
	store  *queue.Store
	clock  func() time.Time
	policy backoff.Policy
	logger *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for run_at and bookkeeping timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithPolicy sets the delay cap and jitter applied to retry delays.
func WithPolicy(policy backoff.Policy) Option {
	return func(e *Engine) {
		e.policy = policy
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.NewComponentLogger(logger, "jobs")
	}
}

// NewEngine constructs an Engine around store.
func NewEngine(store *queue.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		clock:  time.Now,
		logger: logging.NewComponentLogger(nil, "jobs"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() int64 {
	return e.clock().Unix()
}

// Request describes a job submission. MaxRetries and RunAt are optional.
type Request struct {
	ID         string
	Command    string
	MaxRetries *int
	RunAt      string
}

// Enqueue validates req and stores it as a pending job with zero attempts.
func (e *Engine) Enqueue(ctx context.Context, req Request) (*queue.Job, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidJob)
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidJob)
	}

	now := e.now()
	runAt, err := ParseRunAt(req.RunAt, now)
	if err != nil {
		return nil, err
	}

	var maxRetries int
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
		if maxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must be zero or positive, got %d", ErrInvalidJob, maxRetries)
		}
	} else {
		maxRetries = e.maxRetries(ctx)
	}

	job, err := e.store.InsertJob(ctx, queue.NewJob{
		ID:         id,
		Command:    req.Command,
		MaxRetries: maxRetries,
		RunAt:      runAt,
	}, now)
	if err != nil {
		return nil, err
	}
	e.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("max_retries", job.MaxRetries),
		logging.Int64("run_at", job.RunAt),
		logging.String(logging.FieldEventType, "job_enqueued"),
	)
	return job, nil
}

// ClaimNext moves the oldest eligible pending job to processing on behalf of
// workerID. The boolean is false when nothing is eligible.
func (e *Engine) ClaimNext(ctx context.Context, workerID string) (*queue.Job, bool, error) {
	job, err := e.store.ClaimNext(ctx, e.now(), workerID)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, nil
	}
	return job, true, nil
}

// Complete marks a processing job completed. Completing an already completed
// job is a no-op; a pending job yields queue.ErrStateConflict and is left as is.
func (e *Engine) Complete(ctx context.Context, id string) error {
	err := e.store.Complete(ctx, id, e.now())
	var conflict *queue.StateConflictError
	if errors.As(err, &conflict) && conflict.Actual == queue.StateCompleted {
		return nil
	}
	return err
}

// Outcome reports what FailAndRetry did with a failed job.
type Outcome struct {
	Exhausted bool
	Attempts  int
	Delay     time.Duration
	RunAt     time.Time
}

// FailAndRetry records a failed execution of job. The job is rescheduled with
// an exponential delay while retries remain, otherwise it is moved to the
// dead-letter queue.
func (e *Engine) FailAndRetry(ctx context.Context, job *queue.Job, message string) (Outcome, error) {
	if job == nil {
		return Outcome{}, fmt.Errorf("%w: job is required", ErrInvalidJob)
	}
	now := e.now()
	decision := e.policy.Decide(job.Attempts, job.MaxRetries, e.backoffBase(ctx))
	logger := e.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("attempts", decision.NextAttempt),
		logging.Int("max_retries", job.MaxRetries),
	)

	if decision.Exhausted {
		if _, err := e.store.MoveToDeadLetter(ctx, job.ID, decision.NextAttempt, message, now); err != nil {
			return Outcome{}, err
		}
		logging.WarnWithContext(logger, "job moved to dead-letter queue", "job_dead_lettered",
			logging.String("last_error", queue.TruncateError(message)),
			logging.String(logging.FieldErrorHint, "inspect with 'queuectl dlq list' and requeue with 'queuectl dlq retry'"),
			logging.String(logging.FieldImpact, "job will not run again until requeued"),
		)
		return Outcome{Exhausted: true, Attempts: decision.NextAttempt}, nil
	}

	runAt := now + int64(decision.Delay/time.Second)
	if err := e.store.Reschedule(ctx, job.ID, decision.NextAttempt, runAt, message, now); err != nil {
		return Outcome{}, err
	}
	logger.Info("job scheduled for retry",
		logging.Duration("delay", decision.Delay),
		logging.Int64("run_at", runAt),
		logging.String(logging.FieldEventType, "job_retry_scheduled"),
	)
	return Outcome{
		Attempts: decision.NextAttempt,
		Delay:    decision.Delay,
		RunAt:    time.Unix(runAt, 0).UTC(),
	}, nil
}

// DeadLetters returns dead-letter entries, most recently failed first.
func (e *Engine) DeadLetters(ctx context.Context) ([]queue.DeadLetter, error) {
	return e.store.DeadLetters(ctx)
}

// RequeueDeadLetter turns a dead-letter entry back into a pending job with a
// fresh retry budget, eligible immediately.
func (e *Engine) RequeueDeadLetter(ctx context.Context, id string) (*queue.Job, error) {
	job, err := e.store.RequeueDeadLetter(ctx, id, e.now())
	if err != nil {
		return nil, err
	}
	e.logger.Info("dead-letter job requeued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "job_requeued"),
	)
	return job, nil
}

// GetDeadLetter returns a dead-letter entry by id.
func (e *Engine) GetDeadLetter(ctx context.Context, id string) (*queue.DeadLetter, error) {
	return e.store.GetDeadLetter(ctx, id)
}

// Stats returns per-state job counts and the dead-letter count.
func (e *Engine) Stats(ctx context.Context) (queue.Stats, error) {
	return e.store.Stats(ctx)
}

// List returns live jobs in claim order, optionally filtered by state.
func (e *Engine) List(ctx context.Context, states ...queue.State) ([]queue.Job, error) {
	return e.store.ListJobs(ctx, states...)
}

// Get returns a live job by id.
func (e *Engine) Get(ctx context.Context, id string) (*queue.Job, error) {
	return e.store.GetJob(ctx, id)
}

// Recover returns jobs stuck in processing to pending. Only safe when no
// worker is running.
func (e *Engine) Recover(ctx context.Context) (int64, error) {
	count, err := e.store.ResetStuckProcessing(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		e.logger.Info("stuck jobs returned to pending",
			logging.Int64("count", count),
			logging.String(logging.FieldEventType, "jobs_recovered"),
		)
	}
	return count, nil
}

// ClearCompleted deletes completed jobs.
func (e *Engine) ClearCompleted(ctx context.Context) (int64, error) {
	return e.store.ClearCompleted(ctx)
}
