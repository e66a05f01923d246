// Package cmd implements the amanctx command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanctx/internal/app"
	"github.com/Aman-CERP/amanctx/internal/config"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/logging"
	"github.com/Aman-CERP/amanctx/internal/profiling"
	"github.com/Aman-CERP/amanctx/pkg/version"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configFile string
	dataDir    string
	logLevel   string
	verbose    bool

	profile     profiling.Options
	stopProfile func() error
}

// finish stops profiling started by the pre-run hook.
func (g *globals) finish() error {
	if g.stopProfile == nil {
		return nil
	}
	stop := g.stopProfile
	g.stopProfile = nil
	return stop()
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&globals{})
}

func newRootCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanctx",
		Short: "Codebase indexing, hybrid search and memory for coding assistants",
		Long: `amanctx indexes source trees into a vector store and a full-text index,
answers hybrid (semantic + keyword) queries over them, and keeps a
content-addressed memory of observations made while working.

Providers for embeddings, vector storage, caching and full-text search are
chosen in configuration. Run 'amanctx config init' for an annotated template.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !g.profile.Enabled() {
				return nil
			}
			stop, err := profiling.Start(g.profile)
			if err != nil {
				return err
			}
			g.stopProfile = stop
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return g.finish()
		},
	}
	cmd.SetVersionTemplate("amanctx version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "Config file (yaml or toml) applied after the user and project layers")
	pf.StringVar(&g.dataDir, "data-dir", "", "Override data_dir")
	pf.StringVar(&g.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Also write logs to stderr")
	pf.StringVar(&g.profile.CPU, "cpuprofile", "", "Write a CPU profile to this file")
	pf.StringVar(&g.profile.Heap, "memprofile", "", "Write a heap profile to this file on exit")
	pf.StringVar(&g.profile.Trace, "trace", "", "Write an execution trace to this file")

	cmd.AddCommand(
		newIndexCmd(g),
		newStatusCmd(g),
		newSearchCmd(g),
		newMemoryCmd(g),
		newAnalyzeCmd(g),
		newServeCmd(g),
		newConfigCmd(g),
		newDoctorCmd(g),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and prints any error. SIGINT and SIGTERM
// cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g := &globals{}
	err := newRootCmd(g).ExecuteContext(ctx)
	if perr := g.finish(); err == nil {
		err = perr
	}
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, amerrors.FormatForCLI(err))
	}
	return err
}

func (g *globals) loadOptions() (config.LoadOptions, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.LoadOptions{}, amerrors.Infrastructure("resolve working directory", err)
	}
	return config.LoadOptions{ProjectDir: cwd, File: g.configFile, DataDir: g.dataDir}, nil
}

func (g *globals) loadConfig() (*config.Config, error) {
	opts, err := g.loadOptions()
	if err != nil {
		return nil, err
	}
	return config.Load(opts)
}

// session is one command's resolved configuration, logger and services.
type session struct {
	cfg      *config.Config
	app      *app.App
	logger   *slog.Logger
	closeLog func()
}

func (s *session) Close() error {
	err := s.app.Close()
	s.closeLog()
	return err
}

// open loads configuration, configures logging and builds the service
// graph. The caller must Close the session.
func (g *globals) open(ctx context.Context) (*session, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if g.logLevel != "" {
		level = g.logLevel
	}
	logger, closeLog, err := logging.Setup(logging.Config{
		Level:         level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr || g.verbose,
	})
	if err != nil {
		return nil, amerrors.Infrastructure("set up logging", err)
	}
	slog.SetDefault(logger)

	a, err := app.Build(ctx, cfg, app.Options{Logger: logger, Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		closeLog()
		return nil, err
	}
	return &session{cfg: cfg, app: a, logger: logger, closeLog: closeLog}, nil
}

// resolveRoot returns the absolute form of the optional path argument,
// defaulting to the working directory.
func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", amerrors.InvalidArgument("invalid path %q", root)
	}
	return abs, nil
}

// collectionFor picks the collection name: the flag when set, otherwise the
// detected project name, otherwise the directory name.
func collectionFor(ctx context.Context, a *app.App, root, flag string) string {
	if flag != "" {
		return flag
	}
	if info, err := a.Projects.Detect(ctx, root); err == nil && info.Name != "" {
		return info.Name
	}
	return filepath.Base(root)
}
