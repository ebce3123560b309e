package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/framehaus/jobd/store/sqlite"
)

func newRootCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect and manage a jobd job database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&dsn, "db", "jobd.db", "SQLite database path or DSN")

	cmd.AddCommand(
		newStatsCommand(&dsn),
		newListCommand(&dsn),
		newHistoryCommand(&dsn),
		newEnqueueCommand(&dsn),
		newCleanupCommand(&dsn),
	)

	return cmd
}

// openStore opens the SQLite store and runs migrations so jobctl works
// against a fresh database too.
func openStore(ctx context.Context, dsn string) (*sqlite.Store, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := sqlite.Open(dsn, sqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dsn, err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate database %q: %w", dsn, err)
	}
	return st, nil
}
