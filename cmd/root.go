package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "notifq",
	Short: "Queue-backed email relay",
	Long:  "A message relay that accepts publish requests over HTTP, hands them to a visibility-timeout queue, and delivers each one by email from a consumer worker.",
}

// Execute runs the root Cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
