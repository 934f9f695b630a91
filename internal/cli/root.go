// Package cli holds the restorebot command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.json"

func NewRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "restorebot",
		Short:         "Telegram bot that restores subscriptions from a credential pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), cfgPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (json or yaml)")

	cmd.AddCommand(
		NewRunCmd(&cfgPath),
		NewTokenCmd(&cfgPath),
		NewStatsCmd(&cfgPath),
		NewVIPCmd(&cfgPath),
	)
	return cmd
}
