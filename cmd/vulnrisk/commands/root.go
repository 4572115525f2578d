// Package commands implements the vulnrisk command line.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vulnrisk/internal/bootstrap"
	"github.com/bryanwahyu/vulnrisk/internal/config"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// Root builds the command tree.
func Root() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "vulnrisk",
		Short: "Contextual risk analysis for npm dependency vulnerabilities",
		Long: `vulnrisk clones a repository, audits its npm dependencies, builds a threat
model of the project, researches each high or critical advisory and asks a
language model which vulnerabilities are actually exploitable in context.

Examples:
  vulnrisk serve                                   # start the HTTP API
  vulnrisk analyze https://github.com/owner/repo   # one analysis, JSON to stdout`,
		SilenceUsage: true,
	}

	defaultPath := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultPath, "path to config.yaml")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "override log format (json, console)")

	root.AddCommand(serveCmd(g), analyzeCmd(g))
	return root
}

// load reads and validates configuration and builds the logger.
func (g *globalFlags) load() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := bootstrap.Build(ctx, cfg, log)
			if err != nil {
				return errors.Wrap(err, "startup failed")
			}
			defer app.Close()
			return app.Serve(ctx)
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
