package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckpointsCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "List the checkpoints ComfyUI can load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			ckpts, err := a.client.GetCheckpoints(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to fetch checkpoints: %w", err)
			}
			for _, c := range ckpts {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}
