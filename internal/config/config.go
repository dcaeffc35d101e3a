package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PerfConfig holds the core enablement and filtering thresholds for the
// call tracking engine.
type PerfConfig struct {
	Enabled bool `yaml:"enabled"`
	// MinExecutionTime is the minimum wall-clock duration a call must reach
	// to be recorded, e.g. "10ms". Calls exactly at the threshold are kept.
	MinExecutionTime string `yaml:"min_execution_time"`
	// MaxTrackedCalls caps the number of records stored per session. Calls
	// beyond the cap are still measured but not stored.
	MaxTrackedCalls int  `yaml:"max_tracked_calls"`
	TrackArguments  bool `yaml:"track_arguments"`
}

// FilterConfig holds include/exclude rules for function names. Entries are
// matched as exact names first, then as regular expressions.
type FilterConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// LocalStorageConfig configures the local file sink.
type LocalStorageConfig struct {
	Directory string `yaml:"directory"`
	// MaxRecords caps the total number of records retained across all flush
	// files; oldest files are evicted first once the cap is exceeded.
	MaxRecords int `yaml:"max_records"`
}

// ClickHouseConfig holds the connection settings for the remote table sink
// and the read-side querier.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
	// AutoCreate provisions the table on first use when it does not exist.
	AutoCreate bool `yaml:"auto_create"`
}

// NATSConfig configures the stream sink that publishes flush batches to a
// NATS subject.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// StorageConfig selects and parameterizes the sink backend.
type StorageConfig struct {
	// Type is one of "local", "clickhouse", or "nats".
	Type       string             `yaml:"type"`
	Local      LocalStorageConfig `yaml:"local"`
	ClickHouse ClickHouseConfig   `yaml:"clickhouse"`
	NATS       NATSConfig         `yaml:"nats"`
}

// UploadConfig selects the flush strategy and its parameters.
type UploadConfig struct {
	// Strategy is one of "on_exit", "real_time", "batch", or "manual".
	Strategy  string `yaml:"strategy"`
	BatchSize int    `yaml:"batch_size"`
	// Interval is the time component of the batch strategy's dual
	// size/time threshold, e.g. "30s".
	Interval      string `yaml:"interval"`
	RetryAttempts int    `yaml:"retry_attempts"`
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay string `yaml:"retry_base_delay"`
	Timeout        string `yaml:"timeout"`
}

// DaemonConfig configures the system sampler daemon.
type DaemonConfig struct {
	DataDir        string `yaml:"data_dir"`
	SampleInterval string `yaml:"sample_interval"`
	FlushInterval  string `yaml:"flush_interval"`
	// Retention bounds how long flushed metric files are kept, e.g. "24h".
	Retention    string `yaml:"retention"`
	RingCapacity int    `yaml:"ring_capacity"`
	// Alert thresholds in percent; a sample above either emits a log event.
	CPUAlertPercent    float64 `yaml:"cpu_alert_percent"`
	MemoryAlertPercent float64 `yaml:"memory_alert_percent"`
	PerNICNetwork      bool    `yaml:"per_nic_network"`
	// TrackProcesses lists process names for the per-process breakdown.
	TrackProcesses []string `yaml:"track_processes"`
	// ListenAddr is the bind address of the daemon's HTTP status API.
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Perf    PerfConfig    `yaml:"perf"`
	Filter  FilterConfig  `yaml:"filter"`
	Storage StorageConfig `yaml:"storage"`
	Upload  UploadConfig  `yaml:"upload"`
	Daemon  DaemonConfig  `yaml:"daemon"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config
// struct with defaults applied to unset fields.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with every field set to its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.Perf.Enabled = true
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in zero-valued fields after unmarshalling.
func (c *Config) applyDefaults() {
	if c.Perf.MinExecutionTime == "" {
		c.Perf.MinExecutionTime = "0s"
	}
	if c.Perf.MaxTrackedCalls == 0 {
		c.Perf.MaxTrackedCalls = 10000
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.Local.Directory == "" {
		c.Storage.Local.Directory = "./perfdata"
	}
	if c.Storage.Local.MaxRecords == 0 {
		c.Storage.Local.MaxRecords = 100000
	}
	if c.Storage.ClickHouse.Table == "" {
		c.Storage.ClickHouse.Table = "perf_uploads"
	}
	if c.Upload.Strategy == "" {
		c.Upload.Strategy = "on_exit"
	}
	if c.Upload.BatchSize == 0 {
		c.Upload.BatchSize = 100
	}
	if c.Upload.Interval == "" {
		c.Upload.Interval = "30s"
	}
	if c.Upload.RetryAttempts == 0 {
		c.Upload.RetryAttempts = 3
	}
	if c.Upload.RetryBaseDelay == "" {
		c.Upload.RetryBaseDelay = "500ms"
	}
	if c.Upload.Timeout == "" {
		c.Upload.Timeout = "10s"
	}
	if c.Daemon.DataDir == "" {
		c.Daemon.DataDir = "./perfdata/system"
	}
	if c.Daemon.SampleInterval == "" {
		c.Daemon.SampleInterval = "1s"
	}
	if c.Daemon.FlushInterval == "" {
		c.Daemon.FlushInterval = "30s"
	}
	if c.Daemon.Retention == "" {
		c.Daemon.Retention = "24h"
	}
	if c.Daemon.RingCapacity == 0 {
		c.Daemon.RingCapacity = 4096
	}
	if c.Daemon.CPUAlertPercent == 0 {
		c.Daemon.CPUAlertPercent = 90
	}
	if c.Daemon.MemoryAlertPercent == 0 {
		c.Daemon.MemoryAlertPercent = 90
	}
	if c.Daemon.ListenAddr == "" {
		c.Daemon.ListenAddr = ":9190"
	}
}
