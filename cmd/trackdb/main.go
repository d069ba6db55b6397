// Package main provides the trackdb command-line tool.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var verbose bool

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trackdb",
		Short: "Build and query genome annotation track databases",
		Long: `trackdb builds per-assembly annotation tracks (reference sequence,
gene models, conservation scores, generic regions) from declared
sources into compact per-chromosome partitions, and resolves genomic
positions against them.`,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initViper()
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initViper() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil // no home dir, no config file
	}
	viper.SetConfigFile(filepath.Join(home, ".trackdb.yaml"))
	viper.SetEnvPrefix("TRACKDB")
	viper.AutomaticEnv()
	// A missing config file is fine; settings fall back to defaults.
	_ = viper.ReadInConfig()
	return nil
}

// newLogger builds the CLI logger: human-readable, debug level when
// --verbose is set.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
