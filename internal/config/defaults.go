package config

const (
	defaultConfigPath         = "~/.config/queuectl/config.toml"
	defaultDataDir            = "~/.local/share/queuectl"
	defaultDatabaseName       = "queue.db"
	defaultPIDFileName        = "workers.pid"
	defaultLogDirName         = "logs"
	defaultPollIntervalMillis = 500
	defaultStopGraceSeconds   = 10
	defaultShell              = "/bin/sh"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 14
)

// Environment variables that override path settings after the file is read.
const (
	EnvDataDir = "QUEUECTL_DATA_DIR"
	EnvDB      = "QUEUECTL_DB"
	EnvPIDFile = "QUEUECTL_PIDFILE"
)

// Default returns a Config populated with repository defaults. Paths derived
// from the data directory are left empty and filled during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Worker: Worker{
			PollIntervalMillis: defaultPollIntervalMillis,
			StopGraceSeconds:   defaultStopGraceSeconds,
			Shell:              defaultShell,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
