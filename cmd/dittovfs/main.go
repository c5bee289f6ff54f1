// Command dittovfs operates on the sandboxes described by a DittoVFS
// configuration file: listing, creating, copying, moving and deleting
// entries, changing permissions, and bundling files into zip archives.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/config"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/marmos91/dittovfs/pkg/staging"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/spf13/cobra"
)

// app holds the state shared by every subcommand once configuration is loaded.
type app struct {
	configPath string
	sandbox    string
	actor      string

	cfg      *config.Config
	metrics  *config.MetricsResult
	registry *registry.Registry
	staging  *staging.Staging
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{}
	root := a.rootCommand()

	err := root.ExecuteContext(ctx)
	if teardownErr := a.teardown(); err == nil {
		err = teardownErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case vfs.IsValidation(err), vfs.IsPathTraversal(err):
		return 2
	case vfs.IsTypeMismatch(err):
		return 3
	case vfs.IsStorage(err):
		return 4
	case vfs.IsArchive(err):
		return 5
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "dittovfs",
		Short:         "Path-safe file operations on sandboxed storage.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/dittovfs/config.yaml)")
	flags.StringVarP(&a.sandbox, "sandbox", "s", "", "sandbox to operate on (default: first configured sandbox)")
	flags.StringVar(&a.actor, "actor", os.Getenv("USER"), "identity recorded in change records and logs")

	root.AddCommand(
		a.initCommand(),
		a.lsCommand(),
		a.mkdirCommand(),
		a.touchCommand(),
		a.putCommand(),
		a.catCommand(),
		a.cpCommand(),
		a.mvCommand(),
		a.renameCommand(),
		a.rmCommand(),
		a.chmodCommand(),
		a.zipCommand(),
		a.unzipCommand(),
		a.cleanStagingCommand(),
	)

	return root
}

// setup loads configuration, configures logging and builds the registry.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return err
	}

	a.metrics = config.InitializeMetrics(cfg)

	reg, err := config.InitializeRegistry(ctx, cfg, a.metrics)
	if err != nil {
		return err
	}
	a.registry = reg

	st, err := config.CreateStaging(ctx, cfg.Staging)
	if err != nil {
		return err
	}
	a.staging = st

	if a.sandbox == "" {
		a.sandbox = cfg.Sandboxes[0].Name
	}

	return nil
}

// teardown flushes metrics and releases backends. It runs after every
// command, including failed ones.
func (a *app) teardown() error {
	var errs []error

	if err := a.metrics.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = logger.Sync()

	return errors.Join(errs...)
}

// filesystem returns the selected sandbox bound to the actor.
func (a *app) filesystem() (*vfs.Filesystem, error) {
	return a.registry.Filesystem(a.sandbox, a.actor)
}

func printChange(cmd *cobra.Command, c vfs.Change) {
	if c.From != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s -> %s\n", c.Op, c.From, c.Path)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Op, c.Path)
}
