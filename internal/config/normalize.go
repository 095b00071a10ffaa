package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnvOverrides()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnvOverrides() {
	if value, ok := lookupEnv(EnvDataDir); ok {
		c.Paths.DataDir = value
	}
	if value, ok := lookupEnv(EnvDB); ok {
		c.Paths.Database = value
	}
	if value, ok := lookupEnv(EnvPIDFile); ok {
		c.Paths.PIDFile = value
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, defaultLogDirName)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.Database) == "" {
		c.Paths.Database = filepath.Join(c.Paths.DataDir, defaultDatabaseName)
	}
	if c.Paths.Database, err = expandPath(c.Paths.Database); err != nil {
		return fmt.Errorf("paths.database: %w", err)
	}
	if strings.TrimSpace(c.Paths.PIDFile) == "" {
		c.Paths.PIDFile = filepath.Join(c.Paths.DataDir, defaultPIDFileName)
	}
	if c.Paths.PIDFile, err = expandPath(c.Paths.PIDFile); err != nil {
		return fmt.Errorf("paths.pid_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() {
	c.Worker.Shell = strings.TrimSpace(c.Worker.Shell)
	if c.Worker.Shell == "" {
		c.Worker.Shell = defaultShell
	}
	if c.Worker.PollIntervalMillis == 0 {
		c.Worker.PollIntervalMillis = defaultPollIntervalMillis
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
