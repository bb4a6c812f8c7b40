package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "audit-service",
	Short: "Audit event collection and retrieval service",
	Long: `The audit service accepts audit events over HTTP, dispatches them
through a queue and persists them in a time-series store, one bucket per
account. It also serves the query side: event listings, event trails and
metric aggregations.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
