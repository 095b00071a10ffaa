package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Stats returns job counts per state and the dead-letter count.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryxContext(ctx, `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Stats{}, err
		}
		switch state {
		case StatePending:
			stats.Pending = count
		case StateProcessing:
			stats.Processing = count
		case StateCompleted:
			stats.Completed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	if err := s.db.GetContext(ctx, &stats.Dead, `SELECT COUNT(1) FROM dead_letter`); err != nil {
		return Stats{}, fmt.Errorf("dead letter count: %w", err)
	}
	return stats, nil
}

// ClearCompleted deletes completed jobs and returns how many were removed.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE state = ?`, string(StateCompleted))
	if err != nil {
		return 0, fmt.Errorf("clear completed jobs: %w", err)
	}
	return res.RowsAffected()
}

var expectedColumns = map[string][]string{
	"jobs":        {"id", "command", "state", "attempts", "max_retries", "run_at", "created_at", "updated_at", "claimed_by", "last_error"},
	"dead_letter": {"id", "command", "attempts", "max_retries", "failed_at", "last_error"},
	"settings":    {"key", "value"},
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.GetContext(connCtx, &health.SchemaVersion, "SELECT version FROM schema_version LIMIT 1"); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	if err := s.db.GetContext(connCtx, &health.JournalMode, "PRAGMA journal_mode"); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read journal mode: %w", err)
	}

	tables := make([]string, 0, len(expectedColumns))
	for table := range expectedColumns {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		var columns []string
		if err := s.db.SelectContext(connCtx, &columns, "SELECT name FROM pragma_table_info(?)", table); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("table info %s: %w", table, err)
		}
		if len(columns) == 0 {
			health.MissingTables = append(health.MissingTables, table)
			continue
		}
		present := make(map[string]struct{}, len(columns))
		for _, col := range columns {
			present[col] = struct{}{}
		}
		for _, col := range expectedColumns[table] {
			if _, ok := present[col]; !ok {
				health.MissingColumns = append(health.MissingColumns, table+"."+col)
			}
		}
	}

	if len(health.MissingTables) == 0 {
		if err := s.db.GetContext(connCtx, &health.TotalJobs, "SELECT COUNT(*) FROM jobs"); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count jobs: %w", err)
		}
	}

	var integrityResult string
	if err := s.db.GetContext(connCtx, &integrityResult, "PRAGMA integrity_check"); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
