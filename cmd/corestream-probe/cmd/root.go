// Package cmd implements the CLI commands for corestream-probe.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streamcore/corestream/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "corestream-probe",
	Short:   "Offline manifest and fragment inspector",
	Version: version.Short(),
	Long: `corestream-probe parses a manifest or fragment file on disk and prints
its decoded structure. It never opens a network connection and never
starts a playback session; use "corestream play" for that.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}
