// Package cmd implements the card-scanner command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the root command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	ctx := &appContext{}

	rootCmd := &cobra.Command{
		Use:           "card-scanner",
		Short:         "Identify scanned trading cards against a local catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&ctx.configPath, "config", "", "path to the configuration file")

	rootCmd.AddCommand(
		newIdentifyCommand(ctx),
		newBatchCommand(ctx),
		newIndexCommand(ctx),
		newCatalogCommand(ctx),
		newConfigCommand(ctx),
		newVersionCommand(),
	)
	return rootCmd
}
