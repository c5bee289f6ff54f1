package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittovfs/pkg/config"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/spf13/cobra"
)

func (a *app) initCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return cmd
}

func (a *app) lsCommand() *cobra.Command {
	var recursive, asJSON bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}

			p := "/"
			if len(args) == 1 {
				p = args[0]
			}

			listing, err := fs.GetDirectoryCollection(cmd.Context(), p, recursive)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range listing.Entries {
				if e.Type == vfs.TypeBack {
					continue
				}
				size := "-"
				name := e.Path
				if e.Type == vfs.TypeFile {
					size = humanize.Bytes(uint64(e.Size))
				} else {
					name += "/"
				}
				perms := e.PermissionString()
				if perms == "" {
					perms = "----"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", perms, size, humanize.Time(e.ModifiedTime), name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list every descendant")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the listing as JSON")

	return cmd
}

func (a *app) createCommand(use, short string, t vfs.EntryType) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <parent> <name>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}
			change, err := fs.Create(cmd.Context(), t, args[0], args[1])
			if err != nil {
				return err
			}
			printChange(cmd, change)
			return nil
		},
	}
}

func (a *app) mkdirCommand() *cobra.Command {
	return a.createCommand("mkdir", "Create a directory, upcounting taken names.", vfs.TypeDir)
}

func (a *app) touchCommand() *cobra.Command {
	return a.createCommand("touch", "Create an empty file, upcounting taken names.", vfs.TypeFile)
}

func (a *app) putCommand() *cobra.Command {
	var name string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "put <local-file> <directory>",
		Short: "Upload a local file into a sandbox directory.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if name == "" {
				name = filepath.Base(args[0])
			}

			change, err := fs.Store(cmd.Context(), args[1], name, f, overwrite)
			if err != nil {
				return err
			}
			printChange(cmd, change)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "name in the sandbox (default: local base name)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file instead of upcounting")

	return cmd
}

func (a *app) catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a file to standard output.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}

			stream, err := fs.ReadStream(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer stream.Close()

			_, err = io.Copy(cmd.OutOrStdout(), stream)
			return err
		},
	}
}

func (a *app) cpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <source> <destination-dir>",
		Short: "Copy a file or a directory tree.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}

			entry, err := fs.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var change vfs.Change
			if entry.Type == vfs.TypeDir {
				change, err = fs.CopyDir(cmd.Context(), args[0], args[1])
			} else {
				change, err = fs.CopyFile(cmd.Context(), args[0], args[1])
			}
			if err != nil {
				return err
			}
			printChange(cmd, change)
			return nil
		},
	}
}

func (a *app) mvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from> <to>",
		Short: "Move an entry to a new path.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}
			change, err := fs.Move(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printChange(cmd, change)
			return nil
		},
	}
}

func (a *app) renameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <directory> <from> <to>",
		Short: "Rename an entry inside a directory.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}
			change, err := fs.Rename(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			printChange(cmd, change)
			return nil
		},
	}
}

func (a *app) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or a directory tree.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}

			entry, err := fs.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var change vfs.Change
			if entry.Type == vfs.TypeDir {
				change, err = fs.DeleteDir(cmd.Context(), args[0])
			} else {
				change, err = fs.DeleteFile(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			printChange(cmd, change)
			return nil
		},
	}
}

func (a *app) chmodCommand() *cobra.Command {
	var scopeFlag string

	cmd := &cobra.Command{
		Use:   "chmod <octal-mode> <path>",
		Short: "Change permission bits, optionally on descendants.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}

			mode, err := strconv.ParseInt(args[0], 8, 32)
			if err != nil {
				return vfs.NewError(vfs.KindValidation, "chmod", args[1], fmt.Errorf("invalid mode %q", args[0]))
			}

			scope, err := vfs.ParseScope(scopeFlag)
			if err != nil {
				return err
			}

			result, err := fs.Chmod(cmd.Context(), args[1], int(mode), scope)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !result.Supported {
				fmt.Fprintln(out, "backend keeps no permission bits; nothing changed")
				return nil
			}
			for _, o := range result.Outcomes {
				status := "ok"
				if o.Err != nil {
					status = o.Err.Error()
				}
				fmt.Fprintf(out, "%04o\t%s\t%s\n", o.Mode, o.Path, status)
			}
			if !result.OK() {
				return fmt.Errorf("chmod failed on %d item(s)", len(result.Failed()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scopeFlag, "scope", "", "also change descendants: all, folders or files")

	return cmd
}

func (a *app) zipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "zip <destination-dir> <name> <path>...",
		Short: "Bundle files and directories into a zip archive.",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			fs, err := a.filesystem()
			if err != nil {
				return err
			}
			engine, err := config.CreateArchiveEngine(fs, a.staging, a.cfg.Archive, a.metrics.Archive)
			if err != nil {
				return err
			}

			archive, err := engine.CreateArchive(ctx)
			if err != nil {
				return err
			}
			defer archive.Discard()

			for _, p := range args[2:] {
				entry, err := fs.Stat(ctx, p)
				if err != nil {
					return err
				}
				if entry.Type == vfs.TypeDir {
					err = archive.AddDirectoryFromStorage(ctx, p)
				} else {
					err = archive.AddFileFromStorage(ctx, p)
				}
				if err != nil {
					return err
				}
			}

			change, err := archive.Store(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			printChange(cmd, change)
			return nil
		},
	}
}

func (a *app) unzipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unzip <archive> <destination-dir>",
		Short: "Extract a zip archive into a sandbox directory.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := a.filesystem()
			if err != nil {
				return err
			}
			engine, err := config.CreateArchiveEngine(fs, a.staging, a.cfg.Archive, a.metrics.Archive)
			if err != nil {
				return err
			}

			changes, err := engine.Uncompress(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			for _, c := range changes {
				printChange(cmd, c)
			}
			return nil
		},
	}
}

func (a *app) cleanStagingCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean-staging",
		Short: "Remove staged files older than the retention window.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan == 0 {
				olderThan = a.cfg.Staging.Retention
			}

			stats, err := a.staging.Clean(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold (default: staging.retention)")

	return cmd
}
