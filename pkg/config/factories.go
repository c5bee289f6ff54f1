package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/marmos91/dittovfs/pkg/backend"
	backendBadger "github.com/marmos91/dittovfs/pkg/backend/badger"
	backendLocal "github.com/marmos91/dittovfs/pkg/backend/local"
	backendMemory "github.com/marmos91/dittovfs/pkg/backend/memory"
	backendS3 "github.com/marmos91/dittovfs/pkg/backend/s3"
	"github.com/marmos91/dittovfs/pkg/staging"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/mitchellh/mapstructure"
)

// decodeOptions decodes a backend option map into target.
//
// Durations may be given as strings ("30s") and numbers may be given as
// strings, which is what environment variable overrides produce.
func decodeOptions(options map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// CreateBackend creates a backend based on configuration.
//
// This factory function uses the Type field to determine which backend
// implementation to create, then decodes the type-specific options from the
// corresponding map and passes them to the backend's constructor.
//
// Supported types:
//   - "local": pkg/backend/local (directory on local disk)
//   - "memory": pkg/backend/memory (volatile, per process)
//   - "s3": pkg/backend/s3 (Amazon S3 or compatible storage)
//   - "badger": pkg/backend/badger (embedded key-value database)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - name: Backend name, used in log and error messages
//   - cfg: Backend configuration
//   - s3Metrics: Optional S3 metrics (nil disables them)
//
// Returns:
//   - backend.Backend: Initialized backend
//   - error: Configuration or initialization error
func CreateBackend(ctx context.Context, name string, cfg BackendConfig, s3Metrics backendS3.S3Metrics) (backend.Backend, error) {
	switch cfg.Type {
	case "local":
		return createLocalBackend(ctx, name, cfg.Local)
	case "memory":
		return createMemoryBackend(ctx, cfg.Memory)
	case "s3":
		return createS3Backend(ctx, name, cfg.S3, s3Metrics)
	case "badger":
		return createBadgerBackend(ctx, name, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

// createLocalBackend creates a backend rooted at a local directory.
func createLocalBackend(ctx context.Context, name string, options map[string]any) (backend.Backend, error) {
	type LocalBackendOptions struct {
		Path     string `mapstructure:"path"`
		DirMode  uint32 `mapstructure:"dir_mode"`
		FileMode uint32 `mapstructure:"file_mode"`
	}

	var opts LocalBackendOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode local backend config: %w", err)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("local backend %q: path is required", name)
	}

	b, err := backendLocal.NewLocalBackend(ctx, backendLocal.LocalBackendConfig{
		Path:     opts.Path,
		DirMode:  os.FileMode(opts.DirMode),
		FileMode: os.FileMode(opts.FileMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create local backend %q: %w", name, err)
	}

	logger.Debug("local backend %q initialized: path=%s", name, opts.Path)
	return b, nil
}

// createMemoryBackend creates an in-memory backend.
func createMemoryBackend(ctx context.Context, options map[string]any) (backend.Backend, error) {
	type MemoryBackendOptions struct {
		DirMode  uint32 `mapstructure:"dir_mode"`
		FileMode uint32 `mapstructure:"file_mode"`
	}

	var opts MemoryBackendOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode memory backend config: %w", err)
	}

	return backendMemory.NewMemoryBackend(ctx, backendMemory.MemoryBackendConfig{
		DirMode:  os.FileMode(opts.DirMode),
		FileMode: os.FileMode(opts.FileMode),
	})
}

// createBadgerBackend opens a BadgerDB-backed backend.
func createBadgerBackend(ctx context.Context, name string, options map[string]any) (backend.Backend, error) {
	type BadgerBackendOptions struct {
		DBPath    string `mapstructure:"db_path"`
		InMemory  bool   `mapstructure:"in_memory"`
		ChunkSize int    `mapstructure:"chunk_size"`
		DirMode   uint32 `mapstructure:"dir_mode"`
		FileMode  uint32 `mapstructure:"file_mode"`
	}

	var opts BadgerBackendOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger backend config: %w", err)
	}

	if opts.DBPath == "" && !opts.InMemory {
		return nil, fmt.Errorf("badger backend %q: db_path is required unless in_memory is set", name)
	}

	b, err := backendBadger.NewBadgerBackend(ctx, backendBadger.BadgerBackendConfig{
		DBPath:    opts.DBPath,
		InMemory:  opts.InMemory,
		ChunkSize: opts.ChunkSize,
		DirMode:   os.FileMode(opts.DirMode),
		FileMode:  os.FileMode(opts.FileMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger backend %q: %w", name, err)
	}

	return b, nil
}

// createS3Backend creates an S3-based backend.
func createS3Backend(ctx context.Context, name string, options map[string]any, metrics backendS3.S3Metrics) (backend.Backend, error) {
	type S3BackendOptions struct {
		Region          string        `mapstructure:"region"`
		Bucket          string        `mapstructure:"bucket"`
		KeyPrefix       string        `mapstructure:"key_prefix"`
		Endpoint        string        `mapstructure:"endpoint"`
		AccessKeyID     string        `mapstructure:"access_key_id"`
		SecretAccessKey string        `mapstructure:"secret_access_key"`
		ForcePathStyle  bool          `mapstructure:"force_path_style"`
		PartSize        int64         `mapstructure:"part_size"`
		MaxRetries      int           `mapstructure:"max_retries"`
		MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	}

	var opts S3BackendOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 backend config: %w", err)
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 backend %q: bucket is required", name)
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 backend %q: region is required", name)
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			if opts.MaxRetries > 0 {
				o.MaxAttempts = opts.MaxRetries
			}
			if opts.MaxBackoff > 0 {
				o.MaxBackoff = opts.MaxBackoff
			}
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoint for MinIO, Localstack, etc.
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle || opts.Endpoint != ""
	})

	// ========================================================================
	// Step 3: Create S3 Backend
	// ========================================================================

	b, err := backendS3.NewS3Backend(ctx, backendS3.S3BackendConfig{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
		PartSize:  opts.PartSize,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 backend %q: %w", name, err)
	}

	logger.Debug("S3 backend %q initialized: bucket=%s, region=%s, prefix=%s",
		name, opts.Bucket, opts.Region, opts.KeyPrefix)

	return b, nil
}

// CreateStaging opens the staging area described by cfg.
//
// ApplyDefaults must have run so that GCProbability is set.
func CreateStaging(ctx context.Context, cfg StagingConfig) (*staging.Staging, error) {
	probability := staging.DefaultGCProbability
	if cfg.GCProbability != nil {
		probability = *cfg.GCProbability
	}

	return staging.New(ctx, staging.Config{
		Dir:           cfg.Dir,
		GCProbability: probability,
		Retention:     cfg.Retention,
		MaxNameBytes:  cfg.MaxNameBytes,
	})
}

// CreateArchiveEngine creates an archive engine for one sandbox.
//
// Parameters:
//   - fs: Sandbox filesystem archives are read from and written to
//   - st: Staging area shared by all engines
//   - cfg: Archive configuration
//   - metrics: Optional archive metrics (nil disables them)
func CreateArchiveEngine(fs *vfs.Filesystem, st *staging.Staging, cfg ArchiveConfig, metrics archive.Metrics) (*archive.Engine, error) {
	compression, err := archive.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	return archive.NewEngine(fs, st, archive.Config{
		Compression: compression,
		Level:       cfg.Level,
		Metrics:     metrics,
	})
}
