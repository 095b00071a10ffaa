package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is returned when an id already exists as a job or dead letter.
	ErrDuplicateID = errors.New("duplicate job id")
	// ErrNotFound is returned when no job or dead letter has the requested id.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict is returned when a conditional transition finds the job
	// in a different state than required.
	ErrStateConflict = errors.New("job state conflict")
)

// StateConflictError describes a rejected conditional transition. It matches
// ErrStateConflict with errors.Is.
type StateConflictError struct {
	ID     string
	Wanted State
	Actual State
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("job %q is %s, expected %s", e.ID, e.Actual, e.Wanted)
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}
