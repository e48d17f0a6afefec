package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for TapForge Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	ADB       ADBConfig       `yaml:"adb"`
	Agents    AgentConfig     `yaml:"agents"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig contains instance-specific information.
type ServiceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for execution metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// SchedulerConfig contains execution-loop scheduler settings.
type SchedulerConfig struct {
	// TickInterval is how often active loops are evaluated (seconds).
	TickInterval int `yaml:"tick_interval"`

	// HistoryRetentionDays controls pruning of loop history records.
	// 0 disables pruning.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// WorkerConfig contains execution worker pool settings.
type WorkerConfig struct {
	// Concurrency is the number of executions processed in parallel.
	Concurrency int `yaml:"concurrency"`

	// ExecutionTimeout is the hard per-execution limit (seconds).
	// Prevents a stuck device session from pinning a worker forever.
	ExecutionTimeout int `yaml:"execution_timeout"`
}

// ADBConfig contains debug-bridge settings.
type ADBConfig struct {
	// Binary is the path to the adb executable.
	Binary string `yaml:"binary"`

	// CommandTimeout is the per-command timeout (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// DumpRetries is how many times a flaky UI hierarchy dump is retried.
	DumpRetries int `yaml:"dump_retries"`
}

// AgentConfig contains device-agent pairing settings.
type AgentConfig struct {
	// PairingCode must be presented by a remote agent when registering.
	// Empty disables agent registration entirely.
	PairingCode string `yaml:"pairing_code"`

	// HeartbeatTimeout is how long without a heartbeat before an agent's
	// devices are marked offline (seconds).
	HeartbeatTimeout int `yaml:"heartbeat_timeout"`
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
// Environment variables follow the pattern: TAPFORGE_SECTION_KEY
// For example: TAPFORGE_DATABASE_PATH, TAPFORGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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
		Service: ServiceConfig{
			ID:       "tapforge-001",
			Name:     "TapForge",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/tapforge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tapforge-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval:         30,
			HistoryRetentionDays: 30,
		},
		Worker: WorkerConfig{
			Concurrency:      10,
			ExecutionTimeout: 900,
		},
		ADB: ADBConfig{
			Binary:         "adb",
			CommandTimeout: 30,
			DumpRetries:    3,
		},
		Agents: AgentConfig{
			HeartbeatTimeout: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TAPFORGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("TAPFORGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TAPFORGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TAPFORGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TAPFORGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TAPFORGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Worker
	if v := os.Getenv("TAPFORGE_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}

	// ADB
	if v := os.Getenv("TAPFORGE_ADB_BINARY"); v != "" {
		cfg.ADB.Binary = v
	}

	// Agents - pairing code is a secret, prefer the environment
	if v := os.Getenv("TAPFORGE_AGENT_PAIRING_CODE"); v != "" {
		cfg.Agents.PairingCode = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Service validation
	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Scheduler validation
	if c.Scheduler.TickInterval < 1 {
		errs = append(errs, "scheduler.tick_interval must be at least 1 second")
	}

	// Worker validation
	if c.Worker.Concurrency < 1 {
		errs = append(errs, "worker.concurrency must be at least 1")
	}
	if c.Worker.ExecutionTimeout < 1 {
		errs = append(errs, "worker.execution_timeout must be at least 1 second")
	}

	// ADB validation
	if c.ADB.Binary == "" {
		errs = append(errs, "adb.binary is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetTickInterval returns the scheduler tick interval as a Duration.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickInterval) * time.Second
}

// GetExecutionTimeout returns the per-execution timeout as a Duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	return time.Duration(c.Worker.ExecutionTimeout) * time.Second
}

// GetCommandTimeout returns the adb command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.ADB.CommandTimeout) * time.Second
}

// GetHeartbeatTimeout returns the agent heartbeat timeout as a Duration.
func (c *Config) GetHeartbeatTimeout() time.Duration {
	return time.Duration(c.Agents.HeartbeatTimeout) * time.Second
}
