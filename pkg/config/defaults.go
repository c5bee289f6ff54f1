package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittovfs/pkg/staging"
)

const (
	// DefaultBackendName is the backend created when none is configured
	DefaultBackendName = "local"

	// DefaultSandboxName is the sandbox created when none is configured
	DefaultSandboxName = "default"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults only fill the option map matching the type
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	if len(cfg.Backends) == 0 {
		cfg.Backends = map[string]BackendConfig{
			DefaultBackendName: {Type: "local"},
		}
	}
	for name, b := range cfg.Backends {
		applyBackendDefaults(name, &b)
		cfg.Backends[name] = b
	}

	if len(cfg.Sandboxes) == 0 {
		cfg.Sandboxes = []SandboxConfig{{
			Name:    DefaultSandboxName,
			Backend: firstBackend(cfg.Backends),
			Prefix:  "/",
		}}
	}
	for i := range cfg.Sandboxes {
		if cfg.Sandboxes[i].Prefix == "" {
			cfg.Sandboxes[i].Prefix = "/"
		}
	}

	applyStagingDefaults(&cfg.Staging)
	applyArchiveDefaults(&cfg.Archive)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyBackendDefaults fills the option map of the selected backend type.
func applyBackendDefaults(name string, cfg *BackendConfig) {
	switch cfg.Type {
	case "local":
		if cfg.Local == nil {
			cfg.Local = make(map[string]any)
		}
		if _, ok := cfg.Local["path"]; !ok {
			cfg.Local["path"] = filepath.Join(os.TempDir(), "dittovfs-"+name)
		}
	case "memory":
		if cfg.Memory == nil {
			cfg.Memory = make(map[string]any)
		}
	case "s3":
		if cfg.S3 == nil {
			cfg.S3 = make(map[string]any)
		}
		if _, ok := cfg.S3["max_retries"]; !ok {
			cfg.S3["max_retries"] = 3
		}
	case "badger":
		if cfg.Badger == nil {
			cfg.Badger = make(map[string]any)
		}
		_, hasPath := cfg.Badger["db_path"]
		_, inMemory := cfg.Badger["in_memory"]
		if !hasPath && !inMemory {
			cfg.Badger["db_path"] = filepath.Join(os.TempDir(), "dittovfs-"+name+"-badger")
		}
	}
}

func applyStagingDefaults(cfg *StagingConfig) {
	if cfg.Dir == "" {
		cfg.Dir = staging.DefaultDir()
	}
	if cfg.GCProbability == nil {
		p := staging.DefaultGCProbability
		cfg.GCProbability = &p
	}
	if cfg.Retention == 0 {
		cfg.Retention = staging.DefaultRetention
	}
	if cfg.MaxNameBytes == 0 {
		cfg.MaxNameBytes = staging.DefaultMaxNameBytes
	}
}

func applyArchiveDefaults(cfg *ArchiveConfig) {
	if cfg.Compression == "" {
		cfg.Compression = "deflate"
	}
	cfg.Compression = strings.ToLower(cfg.Compression)
}

// firstBackend returns the alphabetically first backend name so the default
// sandbox is deterministic when several backends are configured.
func firstBackend(backends map[string]BackendConfig) string {
	first := ""
	for name := range backends {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

// GetDefaultConfig returns a Config with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
