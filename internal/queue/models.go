package queue

import (
	"strings"
	"time"
)

// State represents the lifecycle of a live job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
)

// StateDead names dead-letter entries in listings. It is never stored in the
// jobs table.
const StateDead State = "dead"

var allStates = []State{StatePending, StateProcessing, StateCompleted}

// AllStates returns the ordered list of states a live job can be in.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a string into a known State. StateDead is accepted.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case StatePending, StateProcessing, StateCompleted, StateDead:
		return normalized, true
	}
	return "", false
}

// Job is a row of the jobs table. Timestamps are Unix seconds.
type Job struct {
	ID         string `db:"id" json:"id" yaml:"id"`
	Command    string `db:"command" json:"command" yaml:"command"`
	State      State  `db:"state" json:"state" yaml:"state"`
	Attempts   int    `db:"attempts" json:"attempts" yaml:"attempts"`
	MaxRetries int    `db:"max_retries" json:"max_retries" yaml:"max_retries"`
	RunAt      int64  `db:"run_at" json:"run_at" yaml:"run_at"`
	CreatedAt  int64  `db:"created_at" json:"created_at" yaml:"created_at"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at" yaml:"updated_at"`
	ClaimedBy  string `db:"claimed_by" json:"claimed_by,omitempty" yaml:"claimed_by,omitempty"`
	LastError  string `db:"last_error" json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// RunAtTime returns the eligibility time as a time.Time.
func (j Job) RunAtTime() time.Time {
	return time.Unix(j.RunAt, 0).UTC()
}

// DeadLetter is a terminal record for a job that exhausted its retries.
type DeadLetter struct {
	ID         string `db:"id" json:"id" yaml:"id"`
	Command    string `db:"command" json:"command" yaml:"command"`
	Attempts   int    `db:"attempts" json:"attempts" yaml:"attempts"`
	MaxRetries int    `db:"max_retries" json:"max_retries" yaml:"max_retries"`
	FailedAt   int64  `db:"failed_at" json:"failed_at" yaml:"failed_at"`
	LastError  string `db:"last_error" json:"last_error" yaml:"last_error"`
}

// MaxErrorLength bounds the stored last_error text, in characters.
const MaxErrorLength = 2048

// TruncateError shortens message to MaxErrorLength characters without
// splitting a UTF-8 sequence.
func TruncateError(message string) string {
	runes := []rune(message)
	if len(runes) <= MaxErrorLength {
		return message
	}
	return string(runes[:MaxErrorLength])
}

// Stats holds job counts per state plus the dead-letter count.
type Stats struct {
	Pending    int `json:"pending" yaml:"pending"`
	Processing int `json:"processing" yaml:"processing"`
	Completed  int `json:"completed" yaml:"completed"`
	Dead       int `json:"dead" yaml:"dead"`
}

// ByState returns the counts keyed by state name plus "total".
func (s Stats) ByState() map[string]int {
	return map[string]int{
		string(StatePending):    s.Pending,
		string(StateProcessing): s.Processing,
		string(StateCompleted):  s.Completed,
		string(StateDead):       s.Dead,
		"total":                 s.Total(),
	}
}

// Total counts live jobs. Dead letters are reported separately.
func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Completed
}

// Count returns the count for the given state.
func (s Stats) Count(state State) int {
	switch state {
	case StatePending:
		return s.Pending
	case StateProcessing:
		return s.Processing
	case StateCompleted:
		return s.Completed
	case StateDead:
		return s.Dead
	}
	return 0
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string   `json:"db_path" yaml:"db_path"`
	DatabaseExists   bool     `json:"database_exists" yaml:"database_exists"`
	DatabaseReadable bool     `json:"database_readable" yaml:"database_readable"`
	SchemaVersion    int      `json:"schema_version" yaml:"schema_version"`
	JournalMode      string   `json:"journal_mode" yaml:"journal_mode"`
	MissingTables    []string `json:"missing_tables,omitempty" yaml:"missing_tables,omitempty"`
	MissingColumns   []string `json:"missing_columns,omitempty" yaml:"missing_columns,omitempty"`
	IntegrityCheck   bool     `json:"integrity_check" yaml:"integrity_check"`
	TotalJobs        int      `json:"total_jobs" yaml:"total_jobs"`
	Error            string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Healthy reports whether every check passed.
func (h DatabaseHealth) Healthy() bool {
	return h.DatabaseExists && h.DatabaseReadable && h.IntegrityCheck &&
		len(h.MissingTables) == 0 && len(h.MissingColumns) == 0 && h.Error == ""
}
