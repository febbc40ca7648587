package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl control HTTP API",
		Long: `Starts the HTTP API for starting, stopping and watching crawls.
Only one crawl runs at a time. SIGINT or SIGTERM stops the active crawl and
shuts the server down gracefully.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			// Run closes the application on the way out.
			return appInstance.Run(cmd.Context())
		},
	}
}
