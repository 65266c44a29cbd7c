// Package main provides the mnemis command line: read and write tiered
// memory, search it, and run the human promotion review workflow.
package main

import (
	"fmt"
	"os"

	"github.com/entrhq/mnemis/pkg/config"
	"github.com/entrhq/mnemis/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

// options holds the global flags shared by every command.
type options struct {
	dir        string
	configPath string
	agent      string
	level      string
	project    string
	output     string
	verbose    bool

	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "mnemis",
		Short: "Tiered memory with provenance and human-reviewed promotion",
		Long: `mnemis stores agent knowledge in three tiers:

  gaia     ecosystem-wide, durable
  project  one project, durable
  agent    one agent, ephemeral (lives only for this process)

Entries move up exactly one tier at a time, and only after a human reviewer
approves the promotion proposal.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.dir, "dir", "", "storage directory (default from config, ~/.mnemis/data)")
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.mnemis/config.json)")
	pf.StringVar(&opts.agent, "agent", "", "agent or reviewer id acting on memory")
	pf.StringVar(&opts.level, "level", "agent", "access level of the agent: gaia, project or agent")
	pf.StringVar(&opts.project, "project", "", "project id for project and agent contracts")
	pf.StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug diagnostics on stderr")

	root.AddCommand(
		newWriteCmd(opts),
		newReadCmd(opts),
		newShowCmd(opts),
		newUpdateCmd(opts),
		newDeleteCmd(opts),
		newSearchCmd(opts),
		newLineageCmd(opts),
		newProposeCmd(opts),
		newApproveCmd(opts),
		newRejectCmd(opts),
		newPendingCmd(opts),
		newReviewCmd(opts),
		newCleanupCmd(opts),
		newUnlockCmd(opts),
	)
	return root
}

// init loads configuration and builds the diagnostics logger.
func (o *options) init() error {
	if o.output != "json" && o.output != "yaml" {
		return fmt.Errorf("unsupported output format %q (want json or yaml)", o.output)
	}
	if err := config.Initialize(o.configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.dir == "" {
		o.dir = config.GetStorage().Dir()
	}

	level := zapLevel(config.GetLogging().LevelValue())
	if o.verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.logger = logger.Named("mnemis")
	o.logger.Debug("configuration loaded",
		zap.String("dir", o.dir),
		zap.String("agent", o.agent),
		zap.String("level", o.level),
		zap.String("project", o.project))
	return nil
}

func zapLevel(l logging.Level) zapcore.Level {
	switch l {
	case logging.LevelDebug:
		return zapcore.DebugLevel
	case logging.LevelInfo:
		return zapcore.InfoLevel
	case logging.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
