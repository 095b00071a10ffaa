package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NewJob describes a job to insert.
type NewJob struct {
	ID         string
	Command    string
	MaxRetries int
	RunAt      int64
}

// InsertJob stores a pending job with zero attempts. The id must not exist in
// either the jobs or the dead-letter table.
func (s *Store) InsertJob(ctx context.Context, req NewJob, now int64) (*Job, error) {
	job := &Job{
		ID:         req.ID,
		Command:    req.Command,
		State:      StatePending,
		MaxRetries: req.MaxRetries,
		RunAt:      req.RunAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.withImmediateTx(ctx, func(tx *txConn) error {
		var dead int
		if err := tx.GetContext(ctx, &dead, "SELECT COUNT(1) FROM dead_letter WHERE id = ?", req.ID); err != nil {
			return fmt.Errorf("check dead letter: %w", err)
		}
		if dead > 0 {
			return fmt.Errorf("job %q is in the dead-letter queue: %w", req.ID, ErrDuplicateID)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, command, state, attempts, max_retries, run_at, created_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
			job.ID, job.Command, string(job.State), job.MaxRetries, job.RunAt, job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("job %q: %w", req.ID, ErrDuplicateID)
			}
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob fetches a live job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.GetContext(ensureContext(ctx), &job, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns live jobs in claim order (created_at, then insertion
// order). With no states every job is returned.
func (s *Store) ListJobs(ctx context.Context, states ...State) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(states) > 0 {
		query += ` WHERE state IN (` + makePlaceholders(len(states)) + `)`
		args = statesToArgs(states)
	}
	query += ` ORDER BY created_at, rowid`

	jobs := []Job{}
	if err := s.db.SelectContext(ensureContext(ctx), &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNext atomically moves the oldest eligible pending job to processing
// and records the claiming worker. It returns nil when no job is eligible.
func (s *Store) ClaimNext(ctx context.Context, now int64, workerID string) (*Job, error) {
	var claimed *Job
	err := s.withImmediateTx(ctx, func(tx *txConn) error {
		claimed = nil
		var job Job
		err := tx.GetContext(ctx, &job,
			`SELECT `+jobColumns+` FROM jobs
             WHERE state = ? AND run_at <= ?
             ORDER BY created_at, rowid
             LIMIT 1`,
			string(StatePending), now,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next job: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, claimed_by = ?, updated_at = ? WHERE id = ? AND state = ?`,
			string(StateProcessing), workerID, now, job.ID, string(StatePending),
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("claim job: %w", err)
		} else if n != 1 {
			return &StateConflictError{ID: job.ID, Wanted: StatePending, Actual: StateProcessing}
		}

		job.State = StateProcessing
		job.ClaimedBy = workerID
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
