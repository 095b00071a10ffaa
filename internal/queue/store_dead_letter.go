package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DeadLetters returns dead-letter entries, most recently failed first.
func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	entries := []DeadLetter{}
	if err := s.db.SelectContext(ensureContext(ctx), &entries,
		`SELECT `+deadLetterColumns+` FROM dead_letter ORDER BY failed_at DESC, rowid DESC`,
	); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return entries, nil
}

// GetDeadLetter fetches a dead-letter entry by id.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*DeadLetter, error) {
	var entry DeadLetter
	err := s.db.GetContext(ensureContext(ctx), &entry,
		`SELECT `+deadLetterColumns+` FROM dead_letter WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dead letter %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return &entry, nil
}

// RequeueDeadLetter removes a dead-letter entry and reinserts it as a fresh
// pending job (zero attempts, eligible at now) keeping command and max_retries.
func (s *Store) RequeueDeadLetter(ctx context.Context, id string, now int64) (*Job, error) {
	var job *Job
	err := s.withImmediateTx(ctx, func(tx *txConn) error {
		job = nil
		var entry DeadLetter
		err := tx.GetContext(ctx, &entry,
			`SELECT `+deadLetterColumns+` FROM dead_letter WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("dead letter %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read dead letter: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letter WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete dead letter: %w", err)
		}
		fresh := Job{
			ID:         entry.ID,
			Command:    entry.Command,
			State:      StatePending,
			MaxRetries: entry.MaxRetries,
			RunAt:      now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, command, state, attempts, max_retries, run_at, created_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
			fresh.ID, fresh.Command, string(fresh.State), fresh.MaxRetries, fresh.RunAt, fresh.CreatedAt, fresh.UpdatedAt,
		); err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("job %q: %w", id, ErrDuplicateID)
			}
			return fmt.Errorf("insert job: %w", err)
		}
		job = &fresh
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("requeue dead letter: %w", err)
	}
	return job, nil
}
