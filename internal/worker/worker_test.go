package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuectl/internal/jobs"
	"queuectl/internal/queue"
	"queuectl/internal/shell"
	"queuectl/internal/testsupport"
	"queuectl/internal/worker"
)

func newEngine(t *testing.T) *jobs.Engine {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return jobs.NewEngine(testsupport.MustOpenStore(t, cfg))
}

func intPtr(v int) *int { return &v }

// runUntil runs w until cond holds, then cancels it and returns Run's error.
func runUntil(t *testing.T, w *worker.Worker, cond func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
		return nil
	}
}

func TestWorkerCompletesSuccessfulJobs(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := engine.Enqueue(ctx, jobs.Request{ID: id, Command: "true"})
		require.NoError(t, err)
	}

	var (
		mu  sync.Mutex
		ran []string
	)
	runner := worker.RunnerFunc(func(_ context.Context, command string) shell.Result {
		mu.Lock()
		ran = append(ran, command)
		mu.Unlock()
		return shell.Result{}
	})
	w := worker.New(engine, runner, worker.WithPollInterval(5*time.Millisecond), worker.WithID("w-test"))

	err := runUntil(t, w, func() bool {
		stats, err := engine.Stats(ctx)
		return err == nil && stats.Completed == 2
	})
	require.NoError(t, err)
	assert.Len(t, ran, 2)
	assert.Equal(t, 2, w.Counts().Succeeded)

	job, err := engine.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, queue.StateCompleted, job.State)
	assert.Equal(t, "w-test", job.ClaimedBy)
}

func TestWorkerRetriesAndDeadLettersFailures(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	_, err := engine.Enqueue(ctx, jobs.Request{ID: "bad", Command: "exit 4", MaxRetries: intPtr(0)})
	require.NoError(t, err)
	_, err = engine.Enqueue(ctx, jobs.Request{ID: "flaky", Command: "exit 4", MaxRetries: intPtr(2)})
	require.NoError(t, err)

	runner := worker.RunnerFunc(func(context.Context, string) shell.Result {
		return shell.Result{ExitCode: 4, Stderr: "nope"}
	})
	w := worker.New(engine, runner, worker.WithPollInterval(5*time.Millisecond))

	err = runUntil(t, w, func() bool {
		counts := w.Counts()
		return counts.DeadLettered == 1 && counts.Retried == 1
	})
	require.NoError(t, err)

	dead, err := engine.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", dead[0].ID)
	assert.Equal(t, "exit 4. nope", dead[0].LastError)

	flaky, err := engine.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, flaky.State)
	assert.Equal(t, 1, flaky.Attempts)
	assert.Equal(t, "exit 4. nope", flaky.LastError)
}

func TestWorkerFinishesInFlightJobOnShutdown(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	for _, id := range []string{"first", "second"} {
		_, err := engine.Enqueue(ctx, jobs.Request{ID: id, Command: "sleep"})
		require.NoError(t, err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel bool
	runner := worker.RunnerFunc(func(runCtx context.Context, _ string) shell.Result {
		close(started)
		<-release
		sawCancel = runCtx.Err() != nil
		return shell.Result{}
	})
	w := worker.New(engine, runner, worker.WithPollInterval(5*time.Millisecond))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	<-started
	cancel()
	select {
	case <-done:
		t.Fatal("worker returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)
	assert.False(t, sawCancel, "in-flight command must not see cancellation")

	first, err := engine.Get(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, queue.StateCompleted, first.State)

	second, err := engine.Get(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, second.State, "no new job may be claimed after shutdown")
}

type faultyLifecycle struct {
	err error
}

func (f faultyLifecycle) ClaimNext(context.Context, string) (*queue.Job, bool, error) {
	return nil, false, f.err
}

func (f faultyLifecycle) Complete(context.Context, string) error { return nil }

func (f faultyLifecycle) FailAndRetry(context.Context, *queue.Job, string) (jobs.Outcome, error) {
	return jobs.Outcome{}, nil
}

func TestWorkerStoreFaultIsFatal(t *testing.T) {
	fault := errors.New("disk I/O error")
	w := worker.New(faultyLifecycle{err: fault}, worker.RunnerFunc(func(context.Context, string) shell.Result {
		t.Fatal("runner must not be called")
		return shell.Result{}
	}))

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fault)
}

type completeFails struct {
	job *queue.Job
	err error
}

func (c *completeFails) ClaimNext(context.Context, string) (*queue.Job, bool, error) {
	return c.job, true, nil
}

func (c *completeFails) Complete(context.Context, string) error { return c.err }

func (c *completeFails) FailAndRetry(context.Context, *queue.Job, string) (jobs.Outcome, error) {
	return jobs.Outcome{}, nil
}

func TestWorkerReportFaultIsFatal(t *testing.T) {
	fault := errors.New("database is closed")
	lifecycle := &completeFails{job: &queue.Job{ID: "j", Command: "true"}, err: fault}
	w := worker.New(lifecycle, worker.RunnerFunc(func(context.Context, string) shell.Result {
		return shell.Result{}
	}))

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, fault)
}

// onceLifecycle hands out a single job and fails its report with err.
type onceLifecycle struct {
	mu      sync.Mutex
	job     *queue.Job
	err     error
	claimed bool
}

func (o *onceLifecycle) ClaimNext(context.Context, string) (*queue.Job, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.claimed {
		return nil, false, nil
	}
	o.claimed = true
	return o.job, true, nil
}

func (o *onceLifecycle) Complete(context.Context, string) error { return o.err }

func (o *onceLifecycle) FailAndRetry(context.Context, *queue.Job, string) (jobs.Outcome, error) {
	return jobs.Outcome{}, o.err
}

func TestWorkerSurvivesJobLeavingProcessing(t *testing.T) {
	cases := []struct {
		name   string
		result shell.Result
		err    error
	}{
		{"complete conflict", shell.Result{}, &queue.StateConflictError{ID: "j", Wanted: queue.StateProcessing, Actual: queue.StatePending}},
		{"fail conflict", shell.Result{ExitCode: 1}, &queue.StateConflictError{ID: "j", Wanted: queue.StateProcessing, Actual: queue.StatePending}},
		{"job removed", shell.Result{}, fmt.Errorf("job %q: %w", "j", queue.ErrNotFound)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lifecycle := &onceLifecycle{job: &queue.Job{ID: "j", Command: "true"}, err: tc.err}
			w := worker.New(lifecycle, worker.RunnerFunc(func(context.Context, string) shell.Result {
				return tc.result
			}), worker.WithPollInterval(5*time.Millisecond))

			err := runUntil(t, w, func() bool { return w.Counts().Discarded == 1 })
			require.NoError(t, err)
			assert.Zero(t, w.Counts().Succeeded)
		})
	}
}

func TestWorkerKeepsRunningAfterRecoverDuringJob(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	_, err := engine.Enqueue(ctx, jobs.Request{ID: "long", Command: "sleep"})
	require.NoError(t, err)

	var runs int
	runner := worker.RunnerFunc(func(ctx context.Context, _ string) shell.Result {
		runs++
		if runs == 1 {
			if recovered, err := engine.Recover(ctx); err != nil || recovered != 1 {
				t.Errorf("recover during job: recovered=%d err=%v", recovered, err)
			}
		}
		return shell.Result{}
	})
	w := worker.New(engine, runner, worker.WithPollInterval(5*time.Millisecond))

	err = runUntil(t, w, func() bool {
		stats, err := engine.Stats(ctx)
		return err == nil && stats.Completed == 1
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.Equal(t, 1, w.Counts().Discarded)
	assert.Equal(t, 1, w.Counts().Succeeded)
}

func TestWorkerStopsWhenIdle(t *testing.T) {
	engine := newEngine(t)
	w := worker.New(engine, worker.RunnerFunc(func(context.Context, string) shell.Result {
		return shell.Result{}
	}), worker.WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("idle worker ignored cancellation")
	}
}

func TestWorkerWithRealShell(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	_, err := engine.Enqueue(ctx, jobs.Request{ID: "ok", Command: "exit 0"})
	require.NoError(t, err)
	_, err = engine.Enqueue(ctx, jobs.Request{ID: "ko", Command: "echo bad >&2; exit 5", MaxRetries: intPtr(0)})
	require.NoError(t, err)

	w := worker.New(engine, shell.Executor{}, worker.WithPollInterval(5*time.Millisecond))
	err = runUntil(t, w, func() bool {
		stats, err := engine.Stats(ctx)
		return err == nil && stats.Completed == 1 && stats.Dead == 1
	})
	require.NoError(t, err)

	dead, err := engine.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "exit 5. bad\n", dead[0].LastError)
}
