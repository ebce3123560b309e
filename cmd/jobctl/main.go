// jobctl is the operator CLI for a jobd database. It inspects queue
// statistics, lists jobs, prints transition history, enqueues jobs, and
// cleans up old terminal jobs.
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
