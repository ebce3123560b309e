package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/framehaus/jobd/id"
)

func newHistoryCommand(dsn *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <job-id>",
		Short: "Show a job's transition history, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}

			st, err := openStore(cmd.Context(), *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.History(cmd.Context(), jobID, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no history found")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "  %s  %-10s %s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Status, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries to show (0 means all)")
	return cmd
}
