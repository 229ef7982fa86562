package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
database:
  type: sqlite
storage:
  type: local
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.Engine.NumMachines)
	assert.Equal(t, 1, cfg.Engine.NumDevices)
	assert.Equal(t, 4, cfg.Engine.NumRanks)
	assert.Equal(t, 4, cfg.Engine.WorkerCount())
	assert.Equal(t, 256, cfg.Engine.BlockSize)
	assert.Equal(t, 64, cfg.Engine.CacheEntryCount)
	assert.Equal(t, 2, cfg.Scheduler.PollInterval)
	assert.Equal(t, 5, cfg.Scheduler.WorkerCount)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
engine:
  num_machines: 1
  num_devices: 2
  num_ranks: 2
  block_size: 128
  cache_entry_count: 32
database:
  type: postgres
  host: db.example.com
  port: 5432
  database: raster_engine
  user: admin
  password: secret
storage:
  type: local
  local_path: /tmp/storage
scheduler:
  poll_interval: 5
  worker_count: 8
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.WorkerCount())
	assert.Equal(t, 128, cfg.Engine.BlockSize)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "raster_engine", cfg.Database.Database)
	assert.Equal(t, 8, cfg.Scheduler.WorkerCount)
}

func TestLoad_InvalidDatabaseType(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
database:
  type: oracle
  host: localhost
storage:
  type: local
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

// Note: Storage validation tests moved to internal/storage package

func TestLoad_COSWithCredentials(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
database:
  type: sqlite
storage:
  type: cos
  bucket: test-bucket
  region: ap-guangzhou
  secret_id: test-id
  secret_key: test-key
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "cos", cfg.Storage.Type)
	assert.Equal(t, "test-bucket", cfg.Storage.Bucket)
}

func TestValidate_EmptyHost(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Type: "postgres",
			Host: "",
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Scheduler: SchedulerConfig{WorkerCount: 1},
		Engine:    EngineConfig{NumMachines: 1, NumDevices: 1, NumRanks: 1, CacheEntryCount: 1, BlockSize: 1},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database host is required")
}

func TestValidate_InvalidWorkerCount(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Type: "postgres",
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Scheduler: SchedulerConfig{
			WorkerCount: 0,
		},
		Engine: EngineConfig{NumMachines: 1, NumDevices: 1, NumRanks: 1, CacheEntryCount: 1, BlockSize: 1},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "worker count must be at least 1")
}

func TestValidate_InvalidEngineWorkerCount(t *testing.T) {
	cfg := &Config{
		Database:  DatabaseConfig{Type: "sqlite"},
		Storage:   StorageConfig{Type: "local"},
		Scheduler: SchedulerConfig{WorkerCount: 1},
		Engine:    EngineConfig{NumMachines: 0, NumDevices: 1, NumRanks: 1, CacheEntryCount: 1, BlockSize: 1},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "num_machines")
}

func TestGetSpillDir(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{LocalPath: "/tmp/data"},
	}

	dir := cfg.GetSpillDir("eval-uuid-123")
	assert.Equal(t, "/tmp/data/eval-uuid-123", dir)
}

func TestEnsureStorageDir(t *testing.T) {
	dir := t.TempDir()
	storageDir := filepath.Join(dir, "engine", "storage")

	cfg := &Config{
		Storage: StorageConfig{LocalPath: storageDir},
	}

	err := cfg.EnsureStorageDir()
	require.NoError(t, err)

	_, err = os.Stat(storageDir)
	assert.NoError(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	// Should not return error, use defaults
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
database:
  type: mysql
  host: mysql.local
storage:
  type: local
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, "mysql.local", cfg.Database.Host)
}
