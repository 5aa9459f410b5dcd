package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for caseflow-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3680"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Import pipeline tuning
	Import ImportConfig `yaml:"import"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"caseflow"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"caseflow_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ImportConfig holds tuning knobs for the migration pipeline.
type ImportConfig struct {
	// SampleRowLimit is the number of rows retained per dataset as a
	// sanitized preview for the operator UI.
	SampleRowLimit int `yaml:"sample_row_limit" env:"IMPORT_SAMPLE_ROW_LIMIT" env-default:"25"`

	// StageBatchSize is the number of extracted rows accumulated before a
	// staging write is issued.
	StageBatchSize int `yaml:"stage_batch_size" env:"IMPORT_STAGE_BATCH_SIZE" env-default:"500"`

	// ApplyChunkSize is the number of staged rows processed inside one
	// apply-phase transaction.
	ApplyChunkSize int `yaml:"apply_chunk_size" env:"IMPORT_APPLY_CHUNK_SIZE" env-default:"250"`

	// ChunkTimeoutSeconds bounds a single apply-phase transaction.
	ChunkTimeoutSeconds int `yaml:"chunk_timeout_seconds" env:"IMPORT_CHUNK_TIMEOUT_SECONDS" env-default:"60"`

	// ProgressIntervalMillis is the minimum wall-clock gap between two
	// progress reports for the same entity type.
	ProgressIntervalMillis int `yaml:"progress_interval_millis" env:"IMPORT_PROGRESS_INTERVAL_MILLIS" env-default:"750"`

	// MaxUploadBytes caps the accepted export file size. Zero means no cap.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"IMPORT_MAX_UPLOAD_BYTES" env-default:"0"`

	// UploadDir is where uploaded export files are spooled before extraction.
	UploadDir string `yaml:"upload_dir" env:"IMPORT_UPLOAD_DIR" env-default:""`
}

// ChunkTimeout returns the apply-chunk transaction timeout as a duration.
func (c *ImportConfig) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutSeconds) * time.Second
}

// ProgressInterval returns the progress throttle interval as a duration.
func (c *ImportConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMillis) * time.Millisecond
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// If config.yaml does not exist, configuration comes from environment variables
// and defaults alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Import.UploadDir == "" {
		cfg.Import.UploadDir = os.TempDir()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Import.SampleRowLimit < 0 {
		return fmt.Errorf("import.sample_row_limit must not be negative")
	}
	if c.Import.StageBatchSize <= 0 {
		return fmt.Errorf("import.stage_batch_size must be positive")
	}
	if c.Import.ApplyChunkSize <= 0 {
		return fmt.Errorf("import.apply_chunk_size must be positive")
	}
	if c.Import.ChunkTimeoutSeconds <= 0 {
		return fmt.Errorf("import.chunk_timeout_seconds must be positive")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
