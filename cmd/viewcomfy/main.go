package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "viewcomfy",
		Short:         "Run ViewComfy workflows and follow their results",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "viewcomfy.yaml", "config file path")

	cmd.AddCommand(
		newWatchCommand(&configFile),
		newRunCommand(&configFile),
		newCheckpointsCommand(&configFile),
		newHistoryCommand(&configFile),
	)
	return cmd
}
