package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"queuectl/internal/backoff"
	"queuectl/internal/config"
	"queuectl/internal/jobs"
	"queuectl/internal/logging"
	"queuectl/internal/queue"
	"queuectl/internal/supervisor"
)

type commandContext struct {
	configFlag *string
	outputFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, outputFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		outputFlag: outputFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		if exists {
			c.configPath = resolved
		}
	})
	return c.config, c.configErr
}

// logger returns the CLI logger. Records go to stderr.
func (c *commandContext) logger() *slog.Logger {
	cfg, _ := c.ensureConfig()
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) outputFormat() (string, error) {
	format := outputTable
	if c.outputFlag != nil {
		format = strings.ToLower(strings.TrimSpace(*c.outputFlag))
	}
	switch format {
	case outputTable, outputJSON, outputYAML:
		return format, nil
	case "":
		return outputTable, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want table, json, or yaml)", format)
	}
}

// withStore opens the queue database for the duration of fn.
func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) withEngine(fn func(*jobs.Engine) error) error {
	return c.withStore(func(cfg *config.Config, store *queue.Store) error {
		return fn(newEngine(cfg, store, c.logger()))
	})
}

func newEngine(cfg *config.Config, store *queue.Store, logger *slog.Logger) *jobs.Engine {
	return jobs.NewEngine(store,
		jobs.WithPolicy(backoff.Policy{Max: cfg.MaxRetryDelay(), Jitter: cfg.Retry.Jitter}),
		jobs.WithLogger(logger),
	)
}

func (c *commandContext) supervisor() (*supervisor.Supervisor, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	opts := []supervisor.Option{supervisor.WithLogger(c.logger())}
	if c.configPath != "" {
		opts = append(opts, supervisor.WithConfigPath(c.configPath))
	}
	return supervisor.New(cfg, opts...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
