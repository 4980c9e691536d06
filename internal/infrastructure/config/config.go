package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	NUMA     NUMAConfig     `yaml:"numa"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DaemonConfig contains daemon lifecycle settings.
type DaemonConfig struct {
	// RuntimeDir holds the control socket and PID file.
	RuntimeDir string `yaml:"runtime_dir"`

	// SocketName is the control socket filename inside RuntimeDir.
	SocketName string `yaml:"socket_name"`

	// PIDFileName is the PID file filename inside RuntimeDir.
	PIDFileName string `yaml:"pid_file_name"`

	// DefaultPersistenceMode is applied to every device at startup:
	// "enabled" or "disabled".
	DefaultPersistenceMode string `yaml:"default_persistence_mode"`
}

// NUMAConfig contains the kernel control surface roots. Overridable so
// tests and containers can relocate them.
type NUMAConfig struct {
	MemoryRoot string `yaml:"memory_root"`
	NodeRoot   string `yaml:"node_root"`
	ProcRoot   string `yaml:"proc_root"`
	DevRoot    string `yaml:"dev_root"`
}

// DatabaseConfig contains SQLite database settings for the transition
// audit trail.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for transition
// metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GPUPERSISTD_SECTION_KEY
// For example: GPUPERSISTD_DATABASE_PATH, GPUPERSISTD_DAEMON_RUNTIME_DIR
//
// Parameters:
//   - path: Path to the YAML configuration file; empty runs on defaults
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file when one is given
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			RuntimeDir:             "/var/run/gpu-persistd",
			SocketName:             "gpu-persistd.sock",
			PIDFileName:            "gpu-persistd.pid",
			DefaultPersistenceMode: "disabled",
		},
		NUMA: NUMAConfig{
			MemoryRoot: "/sys/devices/system/memory",
			NodeRoot:   "/sys/devices/system/node",
			ProcRoot:   "/proc",
			DevRoot:    "/dev",
		},
		Database: DatabaseConfig{
			Path:        "/var/lib/gpu-persistd/gpu-persistd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GPUPERSISTD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Daemon
	if v := os.Getenv("GPUPERSISTD_DAEMON_RUNTIME_DIR"); v != "" {
		cfg.Daemon.RuntimeDir = v
	}
	if v := os.Getenv("GPUPERSISTD_DAEMON_DEFAULT_PERSISTENCE_MODE"); v != "" {
		cfg.Daemon.DefaultPersistenceMode = v
	}

	// Database
	if v := os.Getenv("GPUPERSISTD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("GPUPERSISTD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GPUPERSISTD_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Daemon validation
	if c.Daemon.RuntimeDir == "" {
		errs = append(errs, "daemon.runtime_dir is required")
	}
	if c.Daemon.SocketName == "" {
		errs = append(errs, "daemon.socket_name is required")
	}
	if c.Daemon.PIDFileName == "" {
		errs = append(errs, "daemon.pid_file_name is required")
	}
	switch c.Daemon.DefaultPersistenceMode {
	case "enabled", "disabled":
	default:
		errs = append(errs, "daemon.default_persistence_mode must be \"enabled\" or \"disabled\"")
	}

	// NUMA validation
	if c.NUMA.MemoryRoot == "" || c.NUMA.NodeRoot == "" {
		errs = append(errs, "numa.memory_root and numa.node_root are required")
	}
	if c.NUMA.ProcRoot == "" || c.NUMA.DevRoot == "" {
		errs = append(errs, "numa.proc_root and numa.dev_root are required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set GPUPERSISTD_INFLUXDB_TOKEN)")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SocketPath returns the full path of the control socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Daemon.RuntimeDir, c.Daemon.SocketName)
}

// PIDFilePath returns the full path of the PID file.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.Daemon.RuntimeDir, c.Daemon.PIDFileName)
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}
