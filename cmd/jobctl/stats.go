package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framehaus/jobd/job"
)

func newStatsCommand(dsn *string) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context(), recent)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "By status:")
			for _, s := range job.Statuses {
				if n := stats.ByStatus[s]; n > 0 {
					fmt.Fprintf(out, "  %-12s %d\n", s, n)
				}
			}
			fmt.Fprintln(out, "By type:")
			for typ, n := range stats.ByType {
				fmt.Fprintf(out, "  %-24s %d\n", typ, n)
			}
			fmt.Fprintln(out, "By priority:")
			for _, p := range job.Priorities {
				if n := stats.ByPriority[p]; n > 0 {
					fmt.Fprintf(out, "  %-12s %d\n", p, n)
				}
			}
			fmt.Fprintf(out, "Average execution time: %s\n", stats.AvgExecutionTime)

			if len(stats.Recent) > 0 {
				fmt.Fprintln(out, "Recent jobs:")
				for _, j := range stats.Recent {
					printJobLine(out, j)
				}
			}
			if len(stats.RecentFailures) > 0 {
				fmt.Fprintln(out, "Recent failures:")
				for _, j := range stats.RecentFailures {
					printJobLine(out, j)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent jobs and failures to include")
	return cmd
}
