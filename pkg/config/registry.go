package config

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/registry"
)

// InitializeRegistry creates a fully configured Registry from the provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates and registers every backend from cfg.Backends
//  2. Adds every sandbox from cfg.Sandboxes, creating its prefix directory
//
// If any step fails, backends opened so far are closed before returning.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Complete configuration loaded from config file
//   - m: Metrics collectors from InitializeMetrics (nil disables metrics)
//
// Returns:
//   - *registry.Registry: Fully initialized registry
//   - error: If backend creation or sandbox validation fails
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.InitializeRegistry(ctx, cfg, config.InitializeMetrics(cfg))
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
//	defer reg.Close()
func InitializeRegistry(ctx context.Context, cfg *Config, m *MetricsResult) (*registry.Registry, error) {
	logger.Debug("Initializing registry from configuration")

	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if m == nil {
		m = &MetricsResult{}
	}

	reg := registry.NewRegistry()

	if err := registerBackends(ctx, reg, cfg, m); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to register backends: %w", err), reg.Close())
	}
	logger.Debug("Registered %d backend(s)", reg.CountBackends())

	if err := addSandboxes(ctx, reg, cfg, m); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to add sandboxes: %w", err), reg.Close())
	}
	logger.Debug("Registered %d sandbox(es)", reg.CountSandboxes())

	return reg, nil
}

// registerBackends creates the configured backends in name order.
func registerBackends(ctx context.Context, reg *registry.Registry, cfg *Config, m *MetricsResult) error {
	names := make([]string, 0, len(cfg.Backends))
	for name := range cfg.Backends {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := CreateBackend(ctx, name, cfg.Backends[name], m.S3)
		if err != nil {
			return err
		}
		if err := reg.RegisterBackend(name, b); err != nil {
			return err
		}
	}

	return nil
}

func addSandboxes(ctx context.Context, reg *registry.Registry, cfg *Config, m *MetricsResult) error {
	for i, sb := range cfg.Sandboxes {
		err := reg.AddSandbox(ctx, &registry.SandboxConfig{
			Name:        sb.Name,
			Backend:     sb.Backend,
			Prefix:      sb.Prefix,
			StrictPaths: sb.StrictPaths,
			Metrics:     m.VFS.ForSandbox(sb.Name),
		})
		if err != nil {
			return fmt.Errorf("sandboxes[%d]: %w", i, err)
		}

		logger.Debug("sandbox %q: backend=%s prefix=%s strict=%t",
			sb.Name, sb.Backend, sb.Prefix, sb.StrictPaths)
	}

	return nil
}
