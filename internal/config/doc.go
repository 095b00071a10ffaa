// Package config loads, normalizes, and validates queuectl configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the QUEUECTL_DATA_DIR,
// QUEUECTL_DB and QUEUECTL_PIDFILE environment overrides. Paths that are not
// set explicitly are derived from the data directory.
//
// Queue policy shared by all workers is not configured here; it lives in the
// settings table of the queue database.
package config
