package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/framehaus/jobd/engine"
	"github.com/framehaus/jobd/job"
)

func newEnqueueCommand(dsn *string) *cobra.Command {
	var (
		payload    string
		priority   string
		maxRetries int
		timeout    time.Duration
		runAt      string
		owner      string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <job-type>",
		Short: "Enqueue a job with a JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if payload != "" && !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON")
			}

			st, err := openStore(cmd.Context(), *dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			eng, err := engine.New(st)
			if err != nil {
				return err
			}

			opts := []job.Option{
				job.WithPriority(priority),
				job.WithMaxRetries(maxRetries),
				job.WithTimeout(timeout),
			}
			if owner != "" {
				opts = append(opts, job.WithOwner(owner))
			}
			if runAt != "" {
				t, err := time.Parse(time.RFC3339, runAt)
				if err != nil {
					return fmt.Errorf("invalid --run-at %q: %w", runAt, err)
				}
				opts = append(opts, job.WithRunAt(t))
			}

			j, err := eng.EnqueueRaw(cmd.Context(), args[0], []byte(payload), opts...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s, %s)\n", j.ID, j.Type, j.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload for the job")
	cmd.Flags().StringVar(&priority, "priority", "medium", "job priority (critical, high, medium, low)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "maximum retry attempts")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "execution timeout")
	cmd.Flags().StringVar(&runAt, "run-at", "", "earliest execution time (RFC 3339)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner attribution tag")
	return cmd
}
