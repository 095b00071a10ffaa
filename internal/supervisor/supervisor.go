package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"queuectl/internal/config"
	"queuectl/internal/logging"
)

var command = exec.Command

const stopPollInterval = 100 * time.Millisecond

// ErrNoWorkers is returned by Stop when no pid file exists.
var ErrNoWorkers = errors.New("no workers running")

// Supervisor manages worker processes for one configuration.
type Supervisor struct {
	pidPath    string
	logDir     string
	executable string
	configPath string
	grace      time.Duration
	logger     *slog.Logger
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithExecutable sets the binary launched for each worker. It must accept
// `worker run`.
func WithExecutable(path string) Option {
	return func(s *Supervisor) {
		s.executable = path
	}
}

// WithConfigPath passes --config to launched workers.
func WithConfigPath(path string) Option {
	return func(s *Supervisor) {
		s.configPath = path
	}
}

// WithLogger sets the supervisor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// New constructs a Supervisor from cfg.
func New(cfg *config.Config, opts ...Option) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	s := &Supervisor{
		pidPath: cfg.Paths.PIDFile,
		logDir:  cfg.Paths.LogDir,
		grace:   cfg.StopGrace(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if strings.TrimSpace(s.executable) == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		s.executable = exe
	}
	s.logger = logging.NewComponentLogger(s.logger, "supervisor")
	return s, nil
}

// PIDPath returns the pid file location.
func (s *Supervisor) PIDPath() string {
	return s.pidPath
}

// Start launches count detached workers and records their PIDs alongside any
// workers from earlier starts that are still alive.
func (s *Supervisor) Start(ctx context.Context, count int) ([]int, error) {
	if count < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", count)
	}

	var launched []int
	err := withPIDFileLock(ctx, s.pidPath, func() error {
		existing, _, err := ReadPIDFile(s.pidPath)
		if err != nil {
			s.logger.Warn("ignoring unreadable pid file",
				logging.Error(err),
				logging.String(logging.FieldEventType, "pid_file_unreadable"),
				logging.String(logging.FieldErrorHint, "previously started workers may need to be stopped manually"),
				logging.String(logging.FieldImpact, "earlier worker pids are not tracked"),
			)
		}
		pids := alivePIDs(existing.PIDs)

		for i := 0; i < count; i++ {
			pid, err := s.launch()
			if err != nil {
				if len(launched) > 0 {
					_ = writePIDFile(s.pidPath, PIDFile{StartedAt: time.Now().UTC(), PIDs: append(pids, launched...)})
				}
				return err
			}
			launched = append(launched, pid)
		}

		return writePIDFile(s.pidPath, PIDFile{
			StartedAt: time.Now().UTC(),
			PIDs:      append(pids, launched...),
		})
	})
	if err != nil {
		return launched, err
	}
	s.logger.Info("workers launched",
		logging.Int("count", len(launched)),
		logging.Any("pids", launched),
		logging.String(logging.FieldEventType, "workers_launched"),
	)
	return launched, nil
}

// launch starts one detached worker in its own session. Its stdout and
// stderr go to workers.out in the log directory so crashes before the worker
// opens its own log are not lost.
func (s *Supervisor) launch() (int, error) {
	args := []string{"worker", "run"}
	if cfgPath := strings.TrimSpace(s.configPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return 0, fmt.Errorf("create log directory: %w", err)
	}
	out, err := os.OpenFile(filepath.Join(s.logDir, "workers.out"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open worker output log: %w", err)
	}
	defer out.Close()

	proc := command(s.executable, args...)
	proc.Stdout = out
	proc.Stderr = out
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return 0, fmt.Errorf("launch worker: %w", err)
	}
	pid := proc.Process.Pid
	if err := proc.Process.Release(); err != nil {
		return pid, fmt.Errorf("release worker process: %w", err)
	}
	return pid, nil
}

// StopResult reports how each tracked worker ended.
type StopResult struct {
	Stopped []int
	// Running workers were signalled but are still finishing their job.
	Running []int
	Killed  []int
	Gone    []int
}

// Stop sends SIGTERM to every tracked worker and waits up to the grace period
// for them to finish their current job and exit. Workers still busy after the
// grace period keep running and stay in the pid file, unless force is set, in
// which case they are killed. ErrNoWorkers is returned when there is no pid
// file.
func (s *Supervisor) Stop(ctx context.Context, force bool) (StopResult, error) {
	var result StopResult
	err := withPIDFileLock(ctx, s.pidPath, func() error {
		pf, exists, err := ReadPIDFile(s.pidPath)
		if !exists {
			return ErrNoWorkers
		}
		if err != nil {
			return err
		}

		var signalled []int
		for _, pid := range pf.PIDs {
			if !Alive(pid) {
				result.Gone = append(result.Gone, pid)
				continue
			}
			if err := sendSignal(pid, unix.SIGTERM); err != nil {
				return err
			}
			signalled = append(signalled, pid)
		}

		remaining := s.waitForExit(ctx, signalled)
		busy := make(map[int]struct{}, len(remaining))
		for _, pid := range remaining {
			busy[pid] = struct{}{}
		}
		for _, pid := range signalled {
			if _, ok := busy[pid]; !ok {
				result.Stopped = append(result.Stopped, pid)
			}
		}

		if !force {
			if len(remaining) == 0 {
				return removePIDFile(s.pidPath)
			}
			result.Running = remaining
			s.logger.Info("workers still finishing their current job",
				logging.Any("pids", remaining),
				logging.Duration("grace", s.grace),
				logging.String(logging.FieldEventType, "workers_draining"),
			)
			return writePIDFile(s.pidPath, PIDFile{StartedAt: pf.StartedAt, PIDs: remaining})
		}

		for _, pid := range remaining {
			if err := sendSignal(pid, unix.SIGKILL); err != nil {
				return err
			}
			result.Killed = append(result.Killed, pid)
			logging.WarnWithContext(s.logger, "worker did not stop within grace period; killed", "worker_killed",
				logging.Int("pid", pid),
				logging.Duration("grace", s.grace),
				logging.String(logging.FieldErrorHint, "run 'queuectl recover' to requeue its job"),
				logging.String(logging.FieldImpact, "the job it was running stays in processing"),
			)
		}
		return removePIDFile(s.pidPath)
	})
	return result, err
}

func (s *Supervisor) waitForExit(ctx context.Context, pids []int) []int {
	deadline := time.Now().Add(s.grace)
	remaining := pids
	for len(remaining) > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return remaining
		case <-time.After(stopPollInterval):
		}
		remaining = alivePIDs(remaining)
	}
	return remaining
}

// WorkerProcess describes one tracked worker.
type WorkerProcess struct {
	PID           int       `json:"pid" yaml:"pid"`
	Alive         bool      `json:"alive" yaml:"alive"`
	ResidentBytes uint64    `json:"resident_bytes,omitempty" yaml:"resident_bytes,omitempty"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
}

// Workers returns the tracked workers and whether each is alive.
func (s *Supervisor) Workers() ([]WorkerProcess, error) {
	pf, exists, err := ReadPIDFile(s.pidPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	out := make([]WorkerProcess, 0, len(pf.PIDs))
	for _, pid := range pf.PIDs {
		wp := WorkerProcess{PID: pid, StartedAt: pf.StartedAt}
		if Alive(pid) {
			wp.Alive = true
			wp.ResidentBytes = residentBytes(pid)
		}
		out = append(out, wp)
	}
	return out, nil
}

func alivePIDs(pids []int) []int {
	out := make([]int, 0, len(pids))
	for _, pid := range pids {
		if Alive(pid) {
			out = append(out, pid)
		}
	}
	return out
}
