// Package preflight provides readiness checks for the filesystem paths and
// binaries queuectl workers depend on.
//
// The CLI `health` command reports them next to the database diagnostics so a
// misconfigured data directory or missing shell shows up before workers start
// failing every job.
package preflight
