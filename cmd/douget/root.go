// Package douget implements the command line interface.
package douget

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "douget",
	Short: "Batch downloader for Douyin videos and image galleries",
	Long: `douget fetches videos and image galleries from Douyin profiles and
individual post links. It keeps a durable history of what was already
downloaded, writes an append-only manifest of every fetch attempt, and
retries transient failures with backoff.

Runs are resumable: re-running the same targets only fetches what is
missing.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches .douget.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
}

// logLevelFromFlags maps the verbosity flags to a log level, empty when
// neither flag is set so config/env keep their say
func logLevelFromFlags() string {
	switch {
	case verbose:
		return "debug"
	case quiet:
		return "error"
	default:
		return ""
	}
}
