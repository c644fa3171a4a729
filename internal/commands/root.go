// Package commands implements the alioli command line.
package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/gaborage/alioli/app"
	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/logger"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPaths []string
	logLevel    string
	appOptions  []app.Option
}

// NewRootCommand creates the alioli command tree. appOpts are passed to
// app.Build by every subcommand that assembles the app.
func NewRootCommand(version string, appOpts ...app.Option) *cobra.Command {
	g := &globalOptions{appOptions: appOpts}

	root := &cobra.Command{
		Use:   "alioli",
		Short: "Deferred HTTP request delivery",
		Long: `alioli stores outbound HTTP requests marked with the x-alioli-http-valid-until
header and keeps retrying them in the background until they succeed or expire.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVarP(&g.configPaths, "config", "c", nil, "Configuration file (repeatable, later files win)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log.level")

	root.AddCommand(
		newServeCommand(g),
		newDrainCommand(g),
		newStatusCommand(g),
		newSendCommand(g),
		newMigrateCommand(g),
		newVersionCommand(version),
	)
	return root
}

func (g *globalOptions) loadConfig() (*config.Config, error) {
	return config.Load(g.configPaths...)
}

// logger writes to w so command output on stdout stays parseable.
func (g *globalOptions) logger(cfg *config.Config, w io.Writer) logger.Logger {
	level := cfg.Log.Level
	if g.logLevel != "" {
		level = g.logLevel
	}
	return logger.NewWithWriter(w, level, nil)
}

func (g *globalOptions) build(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return g.buildFrom(ctx, cmd, cfg)
}

func (g *globalOptions) buildFrom(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*app.App, error) {
	return app.Build(ctx, cfg, g.logger(cfg, cmd.ErrOrStderr()), g.appOptions...)
}
