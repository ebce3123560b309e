// Package sqlite implements job.Store on an embedded SQLite database via
// the Bun ORM. Claims run as a single conditional UPDATE over a ranked
// subquery, so concurrent workers never double-claim a job. Schema setup
// uses embedded SQL migrations.
//
//	store, err := sqlite.Open("file:photos/jobs.db")
//	if err != nil { ... }
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil { ... }
package sqlite
