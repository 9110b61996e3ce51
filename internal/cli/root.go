// Package cli provides the command-line interface for boorufind.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/logging"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configDir string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "boorufind",
	Short: "Search and download from many image boards at once",
	Long: "boorufind queries Danbooru, Moebooru, Gelbooru-style boards and media feeds in parallel, " +
		"merges the results, resolves parent/child posts and downloads content with bounded concurrency.",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("boorufind %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".boorufind", "config directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole, "log format: console, json")
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(_ *cobra.Command, _ []string) error {
	log, err := logging.New(logging.Options{Level: logLevel, Format: logFormat})
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
