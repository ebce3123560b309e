package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/framehaus/jobd/job"
)

func newListCommand(dsn *string) *cobra.Command {
	var (
		status   string
		jobType  string
		priority string
		owner    string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, highest priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.List(cmd.Context(), job.ListOpts{
				Status:   job.Status(status),
				Type:     jobType,
				Priority: job.Priority(priority),
				Owner:    owner,
				Limit:    limit,
				Offset:   offset,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "no jobs found")
				return nil
			}
			for _, j := range jobs {
				printJobLine(out, j)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, retrying, completed, failed, cancelled, paused)")
	cmd.Flags().StringVar(&jobType, "type", "", "filter by job type")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority (critical, high, medium, low)")
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner tag")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return cmd
}

func printJobLine(out io.Writer, j *job.Job) {
	line := fmt.Sprintf("  %s  %-10s %-8s %-24s %3d%%  %s",
		j.ID, j.Status, j.Priority, j.Type, j.Progress,
		j.CreatedAt.Local().Format(time.DateTime))
	if j.Error != "" {
		line += "  error: " + j.Error
	} else if j.Message != "" {
		line += "  " + j.Message
	}
	fmt.Fprintln(out, line)
}
