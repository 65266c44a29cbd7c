package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/mnemis/pkg/memory/store"
	"github.com/entrhq/mnemis/pkg/review/syntax"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// withApp opens the store, runs fn and always releases the lock.
func withApp(opts *options, fn func(a *app) error) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// entryFlags are the flags shared by write and update.
type entryFlags struct {
	content string
	file    string
	tags    []string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.content, "content", "", "entry content as a JSON object")
	cmd.Flags().StringVar(&f.file, "file", "", "YAML or JSON document with content, tags and metadata (- for stdin)")
	cmd.Flags().StringSliceVar(&f.tags, "tags", nil, "comma separated tags")
	cmd.MarkFlagsMutuallyExclusive("content", "file")
}

// resolve turns the flags into content plus store options. Tags
// given with --tags win over tags in --file.
func (f *entryFlags) resolve(cmd *cobra.Command) (map[string]any, []store.WriteOption, error) {
	var content map[string]any
	var opts []store.WriteOption

	switch {
	case f.file != "":
		doc, err := readDocument(f.file, cmd.InOrStdin())
		if err != nil {
			return nil, nil, err
		}
		content = doc.Content
		if doc.Tags != nil {
			opts = append(opts, store.WithTags(doc.Tags...))
		}
		if doc.Metadata != nil {
			opts = append(opts, store.WithMetadata(doc.Metadata))
		}
	case f.content != "":
		c, err := parseContent(f.content)
		if err != nil {
			return nil, nil, err
		}
		content = c
	default:
		return nil, nil, errors.New("one of --content or --file is required")
	}

	if cmd.Flags().Changed("tags") {
		opts = append(opts, store.WithTags(f.tags...))
	}
	return content, opts, nil
}

func newWriteCmd(opts *options) *cobra.Command {
	var flags entryFlags
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a memory entry at the agent's own tier",
		Example: `  mnemis write --agent lead --level project --project p1 --content '{"rule":"pin base images"}' --tags docker
  mnemis write --agent a1 --project p1 --file finding.yaml --ttl 30m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, writeOpts, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				c, err := a.contract()
				if err != nil {
					return err
				}
				scope, err := scopeFor(c, ttl)
				if err != nil {
					return err
				}
				id, err := a.store.Write(content, scope, c, writeOpts...)
				if err != nil {
					return err
				}
				opts.logger.Info("memory written", zap.String("id", id), zap.String("level", string(scope.Level)))
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime of agent tier entries (default from config)")
	return cmd
}

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <memory-id>",
		Short: "Read an entry with its provenance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				c, err := a.contract()
				if err != nil {
					return err
				}
				e, err := a.store.Read(args[0], c)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, e)
			})
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <memory-id>",
		Short: "Read an entry and print it with syntax highlighting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				c, err := a.contract()
				if err != nil {
					return err
				}
				e, err := a.store.Read(args[0], c)
				if err != nil {
					return err
				}
				out, err := syntax.JSON(e)
				if err != nil {
					opts.logger.Debug("highlighting failed", zap.Error(err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func newUpdateCmd(opts *options) *cobra.Command {
	var flags entryFlags

	cmd := &cobra.Command{
		Use:   "update <memory-id>",
		Short: "Replace an entry's content, and optionally its tags and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, writeOpts, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				c, err := a.contract()
				if err != nil {
					return err
				}
				if err := a.store.Update(args[0], content, c, writeOpts...); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <memory-id>",
		Short: "Delete an entry at the agent's own tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				c, err := a.contract()
				if err != nil {
					return err
				}
				if err := a.store.Delete(args[0], c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired agent memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				n, err := a.store.CleanupExpiredAgentMemory()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", n)
				return nil
			})
		},
	}
}

func newUnlockCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a stale single-writer lock",
		Long: `Removes mnemis.lock from the storage directory. Only use this when the
process that held the lock is gone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := store.LockHolder(opts.dir)
			if err != nil {
				opts.logger.Warn("unreadable lock file", zap.Error(err))
			} else if pid == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "not locked")
				return nil
			}
			if err := store.BreakLock(opts.dir); err != nil {
				return err
			}
			opts.logger.Warn("lock removed", zap.Int("pid", pid), zap.String("dir", opts.dir))
			fmt.Fprintf(cmd.OutOrStdout(), "removed lock held by pid %d\n", pid)
			return nil
		},
	}
}
