package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// transitionError explains why a conditional update matched no row.
func transitionError(ctx context.Context, tx *txConn, id string, wanted State) error {
	var actual State
	err := tx.GetContext(ctx, &actual, `SELECT state FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read job state: %w", err)
	}
	return &StateConflictError{ID: id, Wanted: wanted, Actual: actual}
}

func (s *Store) conditionalUpdate(ctx context.Context, id string, wanted State, query string, args ...any) error {
	return s.withImmediateTx(ctx, func(tx *txConn) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return transitionError(ctx, tx, id, wanted)
		}
		return nil
	})
}

// Complete moves a processing job to completed. The row is kept for audit.
func (s *Store) Complete(ctx context.Context, id string, now int64) error {
	err := s.conditionalUpdate(ctx, id, StateProcessing,
		`UPDATE jobs SET state = ?, last_error = '', updated_at = ? WHERE id = ? AND state = ?`,
		string(StateCompleted), now, id, string(StateProcessing),
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Reschedule returns a processing job to pending with a new attempt count and
// eligibility time.
func (s *Store) Reschedule(ctx context.Context, id string, attempts int, runAt int64, lastError string, now int64) error {
	err := s.conditionalUpdate(ctx, id, StateProcessing,
		`UPDATE jobs
         SET state = ?, attempts = ?, run_at = ?, last_error = ?, claimed_by = '', updated_at = ?
         WHERE id = ? AND state = ?`,
		string(StatePending), attempts, runAt, TruncateError(lastError), now, id, string(StateProcessing),
	)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

// MoveToDeadLetter deletes a processing job and inserts its dead-letter entry
// in one transaction.
func (s *Store) MoveToDeadLetter(ctx context.Context, id string, attempts int, lastError string, failedAt int64) (*DeadLetter, error) {
	var entry *DeadLetter
	err := s.withImmediateTx(ctx, func(tx *txConn) error {
		entry = nil
		var job Job
		err := tx.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read job: %w", err)
		}
		if job.State != StateProcessing {
			return &StateConflictError{ID: id, Wanted: StateProcessing, Actual: job.State}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		dead := DeadLetter{
			ID:         job.ID,
			Command:    job.Command,
			Attempts:   attempts,
			MaxRetries: job.MaxRetries,
			FailedAt:   failedAt,
			LastError:  TruncateError(lastError),
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dead_letter (`+deadLetterColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			dead.ID, dead.Command, dead.Attempts, dead.MaxRetries, dead.FailedAt, dead.LastError,
		); err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		entry = &dead
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("move to dead letter: %w", err)
	}
	return entry, nil
}

// ResetStuckProcessing returns every processing job to pending without
// consuming an attempt. It is an operator recovery tool for jobs whose worker
// died mid-execution; running it while workers are alive can run a command twice.
func (s *Store) ResetStuckProcessing(ctx context.Context, now int64) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET state = ?, claimed_by = '', updated_at = ? WHERE state = ?`,
		string(StatePending), now, string(StateProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}
