package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newServeCmd(use, short string, run func(App, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a App) error {
				return run(a, cmd.Context())
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres jobs and job_events tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a App) error {
				return a.Migrate(cmd.Context())
			})
		},
	}
}
