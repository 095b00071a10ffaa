// Command queuectl manages a durable job queue backed by a local SQLite
// database.
//
// Jobs are shell commands submitted with `queuectl enqueue`. Background
// workers started with `queuectl worker start` claim pending jobs, run them
// with the configured shell, and retry failures with exponential backoff.
// Jobs that exhaust their retries land in the dead-letter queue, where
// `queuectl dlq retry` can send them back for another full set of attempts.
package main
