// Package cmd wires the waveline CLI commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "waveline",
	Short: "WhatsApp Cloud update dispatch service",
	Long:  "Waveline receives WhatsApp Cloud webhook deliveries and routes them through filters, handlers, and blocking listeners.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
