package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoVFS configuration.
//
// The configuration is organized into the following sections:
//   - Logging: Log level, format and destination
//   - Backends: Named storage backends (local disk, memory, S3, BadgerDB)
//   - Sandboxes: Named views onto a prefix of a backend
//   - Staging: Scratch area used while archives are built or extracted
//   - Archive: Compression used for created archives
//   - Metrics: Prometheus collection and textfile export
//
// Configuration sources (in order of precedence, highest first):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Backends maps a backend name to its configuration.
	// Sandboxes reference backends by this name.
	Backends map[string]BackendConfig `mapstructure:"backends" validate:"required,min=1,dive" yaml:"backends"`

	// Sandboxes lists the sandboxes exposed by the registry
	Sandboxes []SandboxConfig `mapstructure:"sandboxes" validate:"required,min=1,dive" yaml:"sandboxes"`

	// Staging configures the scratch directory
	Staging StagingConfig `mapstructure:"staging" yaml:"staging"`

	// Archive configures archive creation
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`

	// Metrics configures Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// BackendConfig specifies one storage backend.
//
// Only the option map matching Type is read; the others may be left empty.
type BackendConfig struct {
	// Type selects the backend implementation
	// Valid values: local, memory, s3, badger
	Type string `mapstructure:"type" validate:"required,oneof=local memory s3 badger" yaml:"type"`

	// Local contains local disk options (path, dir_mode, file_mode)
	Local map[string]any `mapstructure:"local" yaml:"local,omitempty"`

	// Memory contains in-memory options (dir_mode, file_mode)
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// S3 contains S3 options (bucket, region, endpoint, credentials, ...)
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`

	// Badger contains BadgerDB options (db_path, in_memory, chunk_size)
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// SandboxConfig binds a sandbox name to a prefix of a backend.
type SandboxConfig struct {
	// Name identifies the sandbox (e.g. "alice")
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Backend is the name of an entry in Backends
	Backend string `mapstructure:"backend" validate:"required" yaml:"backend"`

	// Prefix is the directory of the backend the sandbox is confined to
	Prefix string `mapstructure:"prefix" validate:"required,startswith=/" yaml:"prefix"`

	// StrictPaths rejects paths containing ".." instead of resolving them
	// to the sandbox root
	StrictPaths bool `mapstructure:"strict_paths" yaml:"strict_paths"`
}

// StagingConfig configures the staging area.
type StagingConfig struct {
	// Dir is the staging directory
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`

	// GCProbability is the chance that opening the staging area triggers a
	// cleanup pass. Nil selects the default; 0 disables GC.
	GCProbability *float64 `mapstructure:"gc_probability" validate:"omitempty,gte=0,lte=1" yaml:"gc_probability"`

	// Retention is the age past which staged entries are collected
	Retention time.Duration `mapstructure:"retention" validate:"gt=0" yaml:"retention"`

	// MaxNameBytes bounds sanitized staging ids
	MaxNameBytes int `mapstructure:"max_name_bytes" validate:"gt=0,lte=255" yaml:"max_name_bytes"`
}

// ArchiveConfig configures archive creation.
type ArchiveConfig struct {
	// Compression used for file members
	// Valid values: store, deflate, zstd
	Compression string `mapstructure:"compression" validate:"required,oneof=store deflate zstd" yaml:"compression"`

	// Level is the compressor level (0 selects the compressor default)
	Level int `mapstructure:"level" validate:"gte=0,lte=22" yaml:"level"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on metrics collection
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Textfile is a path the CLI writes the registry to after each command,
	// in the node_exporter textfile format. Empty disables the export.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// Load loads configuration from file, environment variables, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOVFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOVFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	// Default location: $XDG_CONFIG_HOME/dittovfs/config.yaml
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Missing config file is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittovfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittovfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
