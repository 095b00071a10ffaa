package jobs_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuectl/internal/backoff"
	"queuectl/internal/jobs"
	"queuectl/internal/queue"
	"queuectl/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEngine(t *testing.T, opts ...jobs.Option) (*jobs.Engine, *fakeClock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock()
	opts = append([]jobs.Option{jobs.WithClock(clock.Now)}, opts...)
	return jobs.NewEngine(store, opts...), clock
}

func intPtr(v int) *int { return &v }

func TestEnqueueDefaults(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()

	job, err := engine.Enqueue(ctx, jobs.Request{ID: "job1", Command: "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, job.State)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, clock.Now().Unix(), job.RunAt)
	assert.Equal(t, clock.Now().Unix(), job.CreatedAt)
}

func TestEnqueueUsesMaxRetriesSetting(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.SetSetting(ctx, jobs.SettingMaxRetries, "5"))
	job, err := engine.Enqueue(ctx, jobs.Request{ID: "a", Command: "true"})
	require.NoError(t, err)
	assert.Equal(t, 5, job.MaxRetries)

	job, err = engine.Enqueue(ctx, jobs.Request{ID: "b", Command: "true", MaxRetries: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, job.MaxRetries)
}

func TestEnqueueValidation(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	_, err := engine.Enqueue(ctx, jobs.Request{Command: "true"})
	assert.ErrorIs(t, err, jobs.ErrInvalidJob)

	_, err = engine.Enqueue(ctx, jobs.Request{ID: "x", Command: "  "})
	assert.ErrorIs(t, err, jobs.ErrInvalidJob)

	_, err = engine.Enqueue(ctx, jobs.Request{ID: "x", Command: "true", MaxRetries: intPtr(-1)})
	assert.ErrorIs(t, err, jobs.ErrInvalidJob)

	_, err = engine.Enqueue(ctx, jobs.Request{ID: "x", Command: "true", RunAt: "next tuesday"})
	assert.ErrorIs(t, err, jobs.ErrInvalidSchedule)

	_, err = engine.Get(ctx, "x")
	assert.ErrorIs(t, err, queue.ErrNotFound, "rejected requests must not be stored")
}

func TestEnqueueDuplicateID(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	_, err := engine.Enqueue(ctx, jobs.Request{ID: "dup", Command: "true"})
	require.NoError(t, err)
	_, err = engine.Enqueue(ctx, jobs.Request{ID: "dup", Command: "false"})
	assert.ErrorIs(t, err, queue.ErrDuplicateID)
}

func TestExclusiveClaimAcrossWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := newFakeClock()
	seed := jobs.NewEngine(testsupport.MustOpenStore(t, cfg), jobs.WithClock(clock.Now))
	_, err := seed.Enqueue(context.Background(), jobs.Request{ID: "only", Command: "true"})
	require.NoError(t, err)

	const callers = 8
	engines := make([]*jobs.Engine, callers)
	for i := range engines {
		engines[i] = jobs.NewEngine(testsupport.MustOpenStore(t, cfg), jobs.WithClock(clock.Now))
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		got   []string
		errs  []error
	)
	for i, engine := range engines {
		wg.Add(1)
		go func(workerID string, engine *jobs.Engine) {
			defer wg.Done()
			<-start
			job, ok, err := engine.ClaimNext(context.Background(), workerID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				got = append(got, job.ID+"@"+workerID)
			}
		}(fmt.Sprintf("w%d", i), engine)
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, got, 1, "exactly one caller must receive the job: %v", got)
	assert.True(t, strings.HasPrefix(got[0], "only@"))
}

func TestClaimFIFOByCreatedAt(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()

	// B is eligible earlier but was created later.
	_, err := engine.Enqueue(ctx, jobs.Request{ID: "A", Command: "true", RunAt: fmt.Sprint(clock.Now().Unix())})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = engine.Enqueue(ctx, jobs.Request{ID: "B", Command: "true", RunAt: fmt.Sprint(clock.Now().Unix() - 100)})
	require.NoError(t, err)

	first, ok, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", first.ID)
	assert.Equal(t, queue.StateProcessing, first.State)

	second, ok, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", second.ID)

	_, ok, err = engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackoffFormula(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()

	_, err := engine.Enqueue(ctx, jobs.Request{ID: "b", Command: "exit 1", MaxRetries: intPtr(5)})
	require.NoError(t, err)

	job, ok, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	outcome, err := engine.FailAndRetry(ctx, job, "exit 1. ")
	require.NoError(t, err)
	assert.False(t, outcome.Exhausted)
	assert.Equal(t, 2*time.Second, outcome.Delay)
	assert.Equal(t, clock.Now().Unix()+2, outcome.RunAt.Unix())

	clock.Advance(2 * time.Second)
	job, ok, err = engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, job.Attempts)
	outcome, err = engine.FailAndRetry(ctx, job, "exit 1. ")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, outcome.Delay)

	stored, err := engine.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, clock.Now().Unix()+4, stored.RunAt)
}

func TestBackoffBaseSetting(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.SetSetting(ctx, jobs.SettingBackoffBase, "3"))

	_, err := engine.Enqueue(ctx, jobs.Request{ID: "b3", Command: "false"})
	require.NoError(t, err)
	job, _, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	outcome, err := engine.FailAndRetry(ctx, job, "boom")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, outcome.Delay)
	assert.Equal(t, clock.Now().Unix()+3, outcome.RunAt.Unix())
}

func TestPolicyCapAppliesToRetries(t *testing.T) {
	engine, _ := newEngine(t, jobs.WithPolicy(backoff.Policy{Max: time.Second}))
	ctx := context.Background()

	_, err := engine.Enqueue(ctx, jobs.Request{ID: "cap", Command: "false"})
	require.NoError(t, err)
	job, _, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	outcome, err := engine.FailAndRetry(ctx, job, "boom")
	require.NoError(t, err)
	assert.Equal(t, time.Second, outcome.Delay)
}

func TestExhaustionMovesToDeadLetter(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()

	_, err := engine.Enqueue(ctx, jobs.Request{ID: "x", Command: "exit 1", MaxRetries: intPtr(1)})
	require.NoError(t, err)

	job, _, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	outcome, err := engine.FailAndRetry(ctx, job, "first")
	require.NoError(t, err)
	require.False(t, outcome.Exhausted)

	stored, err := engine.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)

	clock.Advance(outcome.Delay)
	job, ok, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	outcome, err = engine.FailAndRetry(ctx, job, "second")
	require.NoError(t, err)
	require.True(t, outcome.Exhausted)
	assert.Equal(t, 2, outcome.Attempts)

	_, err = engine.Get(ctx, "x")
	assert.ErrorIs(t, err, queue.ErrNotFound)

	dead, err := engine.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "x", dead[0].ID)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Equal(t, 1, dead[0].MaxRetries)
	assert.Equal(t, "second", dead[0].LastError)
	assert.Equal(t, clock.Now().Unix(), dead[0].FailedAt)
}

func TestDeadLettersNewestFirst(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()

	for _, id := range []string{"old", "new"} {
		_, err := engine.Enqueue(ctx, jobs.Request{ID: id, Command: "false", MaxRetries: intPtr(0)})
		require.NoError(t, err)
		job, ok, err := engine.ClaimNext(ctx, "w1")
		require.NoError(t, err)
		require.True(t, ok)
		_, err = engine.FailAndRetry(ctx, job, "boom")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	dead, err := engine.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	assert.Equal(t, "new", dead[0].ID)
	assert.Equal(t, "old", dead[1].ID)
}

func TestRequeueResetsBudget(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()

	_, err := engine.Enqueue(ctx, jobs.Request{ID: "r", Command: "exit 3", MaxRetries: intPtr(0)})
	require.NoError(t, err)
	job, _, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	outcome, err := engine.FailAndRetry(ctx, job, "exit 3. ")
	require.NoError(t, err)
	require.True(t, outcome.Exhausted)

	clock.Advance(time.Hour)
	requeued, err := engine.RequeueDeadLetter(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, requeued.State)
	assert.Equal(t, 0, requeued.Attempts)
	assert.Equal(t, 0, requeued.MaxRetries)
	assert.Equal(t, "exit 3", requeued.Command)
	assert.LessOrEqual(t, requeued.RunAt, clock.Now().Unix())

	claimed, ok, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r", claimed.ID)

	_, err = engine.RequeueDeadLetter(ctx, "missing")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestSchedulingGate(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()

	runAt := clock.Now().Add(time.Hour)
	_, err := engine.Enqueue(ctx, jobs.Request{ID: "later", Command: "true", RunAt: runAt.Format(time.RFC3339)})
	require.NoError(t, err)

	for _, step := range []time.Duration{0, 30 * time.Minute, 29*time.Minute + 59*time.Second} {
		clock.Advance(step)
		_, ok, err := engine.ClaimNext(ctx, "w1")
		require.NoError(t, err)
		require.False(t, ok, "claimed before run_at at %s", clock.Now())
	}

	clock.Advance(time.Second)
	job, ok, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "later", job.ID)
}

func TestCompleteSemantics(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	_, err := engine.Enqueue(ctx, jobs.Request{ID: "c", Command: "true"})
	require.NoError(t, err)

	err = engine.Complete(ctx, "c")
	assert.ErrorIs(t, err, queue.ErrStateConflict)
	pending, err := engine.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, pending.State)

	_, _, err = engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, engine.Complete(ctx, "c"))
	require.NoError(t, engine.Complete(ctx, "c"), "completing twice is a no-op")

	done, err := engine.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, queue.StateCompleted, done.State)

	assert.ErrorIs(t, engine.Complete(ctx, "nope"), queue.ErrNotFound)
}

func TestStatsAndRecover(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_, err := engine.Enqueue(ctx, jobs.Request{ID: id, Command: "true", MaxRetries: intPtr(0)})
		require.NoError(t, err)
	}
	first, _, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, engine.Complete(ctx, first.ID))
	second, _, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	_, err = engine.FailAndRetry(ctx, second, "boom")
	require.NoError(t, err)
	_, _, err = engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Completed: 1, Processing: 1, Dead: 1}, stats)
	assert.Equal(t, 2, stats.Total())

	recovered, err := engine.Recover(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, recovered)

	pending, err := engine.List(ctx, queue.StatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "3", pending[0].ID)

	cleared, err := engine.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)
}

func TestEndToEndRetryThenDeadLetter(t *testing.T) {
	engine, clock := newEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.SetSetting(ctx, jobs.SettingBackoffBase, "2"))

	req, err := jobs.ParseRequest([]byte(`{"id":"a","command":"exit 1","max_retries":1}`))
	require.NoError(t, err)
	_, err = engine.Enqueue(ctx, req)
	require.NoError(t, err)

	job, ok, err := engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", job.ID)
	assert.Equal(t, queue.StateProcessing, job.State)

	_, err = engine.FailAndRetry(ctx, job, "exit 1. ")
	require.NoError(t, err)
	stored, err := engine.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, stored.State)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, clock.Now().Unix()+2, stored.RunAt)

	clock.Advance(3 * time.Second)
	job, ok, err = engine.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", job.ID)

	_, err = engine.FailAndRetry(ctx, job, "exit 1. ")
	require.NoError(t, err)

	_, err = engine.Get(ctx, "a")
	assert.ErrorIs(t, err, queue.ErrNotFound)
	dead, err := engine.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "a", dead[0].ID)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Equal(t, 1, dead[0].MaxRetries)
}
