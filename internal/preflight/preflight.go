package preflight

import (
	"path/filepath"

	"queuectl/internal/config"
	"queuectl/internal/shell"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name" yaml:"name"`
	Passed bool   `json:"passed" yaml:"passed"`
	Detail string `json:"detail" yaml:"detail"`
}

// RunAll executes every check for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if dir := filepath.Dir(cfg.Paths.PIDFile); dir != cfg.Paths.DataDir {
		results = append(results, CheckDirectoryAccess("PID file directory", dir))
	}

	workerShell := cfg.Worker.Shell
	if workerShell == "" {
		workerShell = shell.DefaultShell
	}
	results = append(results, CheckBinary("Worker shell", workerShell))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
