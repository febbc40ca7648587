// Package cmd defines the markdown-crawler command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/crawl"
	"github.com/JakeFAU/markdown-crawler/internal/logging"
	"github.com/JakeFAU/markdown-crawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands need from the built application.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Crawls() *crawl.Registry
}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "markdown-crawler",
		Short: "Crawl a site and keep a change-aware Markdown copy of it.",
		Long: `markdown-crawler fetches pages from a seed URL, converts them and the
documents they link to into Markdown, and records what changed between runs.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
