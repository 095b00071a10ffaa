package queue

import (
	"errors"
	"strings"
)

const jobColumns = "id, command, state, attempts, max_retries, run_at, created_at, updated_at, claimed_by, last_error"

const deadLetterColumns = "id, command, attempts, max_retries, failed_at, last_error"

const sqliteConstraintCode = 19

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteConstraintCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLITE_CONSTRAINT")
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statesToArgs(states []State) []any {
	args := make([]any, 0, len(states))
	for _, state := range states {
		args = append(args, string(state))
	}
	return args
}
