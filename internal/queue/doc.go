// Package queue persists jobs, dead letters, and queue settings in SQLite.
//
// The Store owns the database connection, schema initialization, and every
// state change a job can go through. Multi-step changes run inside
// BEGIN IMMEDIATE transactions on a dedicated connection, and transitions are
// conditional on the current state, so any number of worker processes can
// share one database file without two of them claiming the same job.
//
// Schema changes bump the version in schema.go; users reset the database to
// adopt the new schema.
package queue
