package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.Database == "" {
		return errors.New("paths.database must be set")
	}
	if c.Paths.PIDFile == "" {
		return errors.New("paths.pid_file must be set")
	}
	if c.Paths.Database == c.Paths.PIDFile {
		return errors.New("paths.database and paths.pid_file must differ")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.PollIntervalMillis <= 0 {
		return errors.New("worker.poll_interval_ms must be positive")
	}
	if c.Worker.JobTimeoutSeconds < 0 {
		return errors.New("worker.job_timeout_seconds must be zero (disabled) or positive")
	}
	if c.Worker.StopGraceSeconds < 0 {
		return errors.New("worker.stop_grace_seconds must be zero (do not wait) or positive")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxDelaySeconds < 0 {
		return errors.New("retry.max_delay_seconds must be zero (uncapped) or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero (disabled) or positive")
	}
	return nil
}
