package main

import (
	"github.com/spf13/cobra"

	"github.com/onnwee/streambot/config"
)

func newRootCommand() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "streambot",
		Short:         "Live-stream automation bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	current := func() *config.Config { return cfg }

	rootCmd.AddCommand(newServeCommand(current))
	rootCmd.AddCommand(newEventSubCommand(current))
	rootCmd.AddCommand(newTokensCommand(current))
	rootCmd.AddCommand(newShoutoutsCommand(current))
	return rootCmd
}
