// Package config provides configuration management for the raster engine.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	APM       APMConfig       `mapstructure:"apm"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

// EngineConfig holds the runtime pipeline's environment, per the spec's
// External Interfaces section: device topology, worker sizing, loop
// nesting limits, and block/cache geometry.
type EngineConfig struct {
	NumMachines     int  `mapstructure:"num_machines"`
	NumDevices      int  `mapstructure:"num_devices"`
	NumRanks        int  `mapstructure:"num_ranks"`
	MaxNumWorkers   int  `mapstructure:"max_num_workers"`
	Interpreted     bool `mapstructure:"interpreted"`
	LoopNestedLimit int  `mapstructure:"loop_nested_limit"`
	MaxOutBlock     int  `mapstructure:"max_out_block"`
	BlockSize       int  `mapstructure:"block_size"`
	CacheEntryCount int  `mapstructure:"cache_entry_count"`
}

// WorkerCount returns the size of the worker pool implied by the device
// topology: num_machines x num_devices x num_ranks.
func (e EngineConfig) WorkerCount() int {
	n := e.NumMachines * e.NumDevices * e.NumRanks
	if e.MaxNumWorkers > 0 && n > e.MaxNumWorkers {
		return e.MaxNumWorkers
	}
	return n
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage

	// SpillCompression selects the codec applied to spilled blocks before
	// they leave the process (§4.E, §6 component K): "none", "gzip", or
	// "zstd". Compressing the in-memory element stream trades CPU for the
	// write/read volume a spill actually moves.
	SpillCompression string `mapstructure:"spill_compression"`
}

// APMConfig holds APM callback configuration.
type APMConfig struct {
	URL           string `mapstructure:"url"`
	RequestYunAPI bool   `mapstructure:"request_yunapi"`
	Enabled       bool   `mapstructure:"enabled"`
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	PollInterval  int `mapstructure:"poll_interval"` // in seconds
	WorkerCount   int `mapstructure:"worker_count"`
	PrioritySlots int `mapstructure:"priority_slots"`
	TaskBatchSize int `mapstructure:"task_batch_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Determine config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/perf-analysis")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Check if it's a "file not found" error (either viper's type or os error)
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			// File specified but doesn't exist, use defaults
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Allow environment variables to override config
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from an io.Reader (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.num_machines", 1)
	v.SetDefault("engine.num_devices", 1)
	v.SetDefault("engine.num_ranks", 4)
	v.SetDefault("engine.max_num_workers", 0)
	v.SetDefault("engine.interpreted", false)
	v.SetDefault("engine.loop_nested_limit", 8)
	v.SetDefault("engine.max_out_block", 4)
	v.SetDefault("engine.block_size", 256)
	v.SetDefault("engine.cache_entry_count", 64)

	// Database defaults: sqlite needs no server and is the default backing
	// store for the persistent compiled-Version cache.
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.database", "./data/versioncache.db")
	v.SetDefault("database.max_conns", 10)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.spill_compression", "none")

	// Scheduler defaults
	v.SetDefault("scheduler.poll_interval", 2)
	v.SetDefault("scheduler.worker_count", 5)
	v.SetDefault("scheduler.priority_slots", 2)
	v.SetDefault("scheduler.task_batch_size", 10)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate database config
	if c.Database.Type != "postgres" && c.Database.Type != "mysql" && c.Database.Type != "sqlite" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.Type != "sqlite" && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	// Storage config validation is delegated to storage package

	// Validate scheduler config
	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	// Validate engine config: a zero-sized worker pool can never drain a job queue.
	if c.Engine.WorkerCount() < 1 {
		return fmt.Errorf("engine num_machines x num_devices x num_ranks must be at least 1")
	}
	if c.Engine.CacheEntryCount < 1 {
		return fmt.Errorf("engine cache_entry_count must be at least 1")
	}
	if c.Engine.BlockSize < 1 {
		return fmt.Errorf("engine block_size must be at least 1")
	}

	return nil
}

// EnsureStorageDir creates the local storage directory if it doesn't exist.
func (c *Config) EnsureStorageDir() error {
	if c.Storage.LocalPath == "" {
		return nil
	}
	return os.MkdirAll(c.Storage.LocalPath, 0755)
}

// GetSpillDir returns the evaluation-specific spill directory path.
func (c *Config) GetSpillDir(evaluationID string) string {
	return filepath.Join(c.Storage.LocalPath, evaluationID)
}
