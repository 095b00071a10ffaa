// Package jobs implements the job lifecycle on top of the queue store.
//
// Every state change a job goes through passes through Engine: enqueue,
// claim, complete, fail-and-retry, and the dead-letter requeue path. The
// engine reads the shared queue settings (max-retries, backoff-base) from the
// store on each use, so `queuectl config set` takes effect for running workers
// on their next job.
package jobs
