package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCommand(configFile *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived results, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.archive == nil {
				return errors.New("no archive configured (set archive.driver)")
			}

			jobs, err := a.archive.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROMPT ID\tSTATUS\tOUTPUTS\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", j.PromptID, j.Status, len(j.Outputs), j.ErrorMessage)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of results (0 for all)")
	return cmd
}
