// Package supervisor launches, tracks, and stops detached worker processes.
//
// Worker PIDs are recorded in a JSON pid file guarded by an flock so that
// concurrent `worker start` and `worker stop` invocations do not lose entries.
// Workers are stopped with SIGTERM, which they honour between jobs. Workers
// still busy after the grace period are left to finish unless the stop is
// forced.
package supervisor
