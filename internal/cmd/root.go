package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/llvmpack/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "llvmpack",
	Short: "Build and publish portable clang+llvm bundles",
	Long: `llvmpack cross-compiles LLVM and Clang for a set of target architectures
and publishes the resulting clang+llvm bundles. Each run fetches and verifies
the release sources, builds with a resolved cross toolchain, packages a
deterministic tar.gz with a file manifest, and uploads it to a GitHub release
or OCI registry unless an identical artifact is already there.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	logLevel  string
	logFormat string
	verbose   bool
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with a cancellable context
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json); defaults to json in CI")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "stream build subprocess output")
}

// newLogger builds the logger from persistent flags, preferring JSON in CI.
func newLogger() *log.Logger {
	config := log.DefaultConfig()
	if isCI() {
		config = log.CIConfig()
	}

	config.Level = log.ParseLevel(logLevel)
	if verbose && config.Level > log.LevelDebug {
		config.Level = log.LevelDebug
	}
	if logFormat != "" {
		config.Format = log.ParseFormat(logFormat)
	}

	logger := log.New(config)
	log.SetDefaultLogger(logger)
	return logger
}

func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}
