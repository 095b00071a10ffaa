package testsupport

import (
	"path/filepath"
	"testing"

	"queuectl/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = base
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.Database = filepath.Join(base, "queue.db")
	cfgVal.Paths.PIDFile = filepath.Join(base, "workers.pid")
	cfgVal.Worker.PollIntervalMillis = 10
	cfgVal.Worker.StopGraceSeconds = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithPollInterval overrides the worker poll interval in milliseconds.
func WithPollInterval(millis int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.PollIntervalMillis = millis
	}
}

// WithJobTimeout sets the per-command timeout in seconds.
func WithJobTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.JobTimeoutSeconds = seconds
	}
}

// WithJitter enables randomized retry delays.
func WithJitter() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry.Jitter = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.DataDir
}
