// Package shell runs job commands through the system shell.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var commandContext = exec.CommandContext

// maxCapturedStderr bounds how much stderr is kept in memory. Stored errors are
// truncated further by the queue.
const maxCapturedStderr = 64 * 1024

// DefaultShell is used when Executor.Shell is empty.
const DefaultShell = "/bin/sh"

// Result describes a finished command. A failed command is data, not an error.
type Result struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
	// Err is set when the command could not be started or was killed.
	Err error
	// TimedOut reports that the command was killed by the executor timeout.
	TimedOut bool
}

// Success reports whether the command exited with status 0.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// FailureMessage renders the stored error text for a failed command:
// "exit <code>. <stderr>", or the start error when the command never ran.
func (r Result) FailureMessage() string {
	switch {
	case r.TimedOut:
		return fmt.Sprintf("timed out after %s. %s", r.Duration.Round(time.Second), r.Stderr)
	case r.Err != nil && r.ExitCode < 0:
		return r.Err.Error()
	default:
		return fmt.Sprintf("exit %d. %s", r.ExitCode, r.Stderr)
	}
}

// Executor runs commands with `<shell> -c <command>`.
type Executor struct {
	Shell string
	// Timeout kills the command after the given duration. Zero disables it.
	Timeout time.Duration
	// Stdout receives the command's standard output. Nil discards it.
	Stdout io.Writer
}

// Run executes command and waits for it to exit. Cancelling ctx kills the
// command; callers that must let it finish pass a context without cancellation.
func (e Executor) Run(ctx context.Context, command string) Result {
	shell := strings.TrimSpace(e.Shell)
	if shell == "" {
		shell = DefaultShell
	}

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	stderr := &cappedBuffer{limit: maxCapturedStderr}
	cmd := commandContext(runCtx, shell, "-c", command) //nolint:gosec
	cmd.Stderr = stderr
	if e.Stdout != nil {
		cmd.Stdout = e.Stdout
	}
	// Own process group so a timeout kill reaches the shell's children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	if e.Timeout > 0 {
		// Bounds the wait for pipes held open by children after a timeout kill.
		cmd.WaitDelay = time.Second
	}

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result
	}

	var exitErr *exec.ExitError
	switch {
	case runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.ExitCode = exitCode(exitErr, err)
		result.TimedOut = true
		result.Err = fmt.Errorf("command timed out after %s", e.Timeout)
	case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// The shell exited; only a leftover child still held its output.
		result.ExitCode = cmd.ProcessState.ExitCode()
	case errors.As(err, &exitErr):
		result.ExitCode = exitCode(exitErr, err)
		if result.ExitCode < 0 {
			result.Err = err
		}
	default:
		result.ExitCode = -1
		result.Err = fmt.Errorf("start command: %w", err)
	}
	return result
}

func exitCode(exitErr *exec.ExitError, err error) int {
	if exitErr == nil && !errors.As(err, &exitErr) {
		return -1
	}
	return exitErr.ExitCode()
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	buf   []byte
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return string(b.buf)
}
