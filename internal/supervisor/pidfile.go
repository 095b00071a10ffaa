package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// PIDFile is the on-disk record of launched workers.
type PIDFile struct {
	StartedAt time.Time `json:"started_at"`
	PIDs      []int     `json:"pids"`
}

// ReadPIDFile loads the pid file. The boolean is false when it does not exist.
func ReadPIDFile(path string) (PIDFile, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return PIDFile{}, false, nil
	}
	if err != nil {
		return PIDFile{}, false, fmt.Errorf("read pid file %q: %w", path, err)
	}
	var pf PIDFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return PIDFile{}, true, fmt.Errorf("parse pid file %q: %w", path, err)
	}
	return pf, true, nil
}

func writePIDFile(path string, pf PIDFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid file directory: %w", err)
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pid file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace pid file: %w", err)
	}
	return nil
}

func removePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file %q: %w", path, err)
	}
	return nil
}

// withPIDFileLock holds an exclusive lock on <path>.lock while fn runs.
func withPIDFileLock(ctx context.Context, path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid file directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock pid file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock pid file: %s is held by another process", lock.Path())
	}
	defer lock.Unlock()
	return fn()
}
