// Package cmd defines and implements the CLI commands for the egpwatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/api"
	"github.com/JakeFAU/egp-watch/internal/app"
	"github.com/JakeFAU/egp-watch/internal/config"
	"github.com/JakeFAU/egp-watch/internal/logging"
	"github.com/JakeFAU/egp-watch/internal/notify"
	"github.com/JakeFAU/egp-watch/internal/pipeline"
	"github.com/JakeFAU/egp-watch/internal/source"
)

var (
	cfgFile  string
	envFiles []string
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	Runner(ctx context.Context, dryRun bool) (*pipeline.Runner, error)
	Previewed() []notify.Event
	Server() *api.Server
	Resolver() *source.Resolver
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

// requirements lists the inputs each command refuses to start without.
var requirements = map[string]func(config.Config) error{
	"run":     config.Config.RequireRun,
	"proxy":   config.Config.RequireProxy,
	"resolve": config.Config.RequireResolve,
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var closeLog func() error
	cmd := &cobra.Command{
		Use:   "egpwatch",
		Short: "Watches the e-GP open-data portal for new procurement announcements.",
		Long: `egpwatch polls the Thai government open-data portal for procurement
announcements in the configured provinces, remembers what it has already
announced, and broadcasts anything new to LINE and any configured brokers.`,
		SilenceUsage: true,

		// Config problems abort here, before any network call is made.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, envFiles...)
			if err != nil {
				return err
			}
			check, ok := requirements[cmd.Name()]
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				// Nothing is broadcast, so the LINE token is not needed.
				check, ok = config.Config.RequireProxy, true
			}
			if ok {
				if err := check(cfg); err != nil {
					return err
				}
			}

			logger, closer, err := logging.Build(logging.Options{
				Development: cfg.Logging.Development,
				Fluent: logging.FluentConfig{
					Host:      cfg.Logging.Fluent.Host,
					Port:      cfg.Logging.Fluent.Port,
					TagPrefix: cfg.Logging.Fluent.TagPrefix,
				},
			})
			if err != nil {
				return err
			}
			closeLog = closer
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
			if closeLog != nil {
				if err := closeLog(); err != nil {
					zap.L().Warn("close log shipper", zap.Error(err))
				}
			}
			_ = zap.L().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env when present)")

	cmd.AddCommand(newRunCmd(), newProxyCmd(), newResolveCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	logger, err := logging.New(false)
	if err == nil {
		zap.ReplaceGlobals(logger)
	}

	if err := newRootCmd().Execute(); err != nil {
		zap.L().Fatal("command execution failed", zap.Error(err))
	}
}
