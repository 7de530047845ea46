// Package cli implements the kiln command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln-cli/internal/logger"
)

var (
	verboseFlag bool
	configDir   string
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Incremental knowledge index for plaintext notes",
	Long: `kiln maintains a queryable semantic index over a directory of
plaintext notes. It detects changed content down to the block level via
digest trees, re-embeds only what changed, and answers similarity
queries over the result.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verboseFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory (default ~/.kiln)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
