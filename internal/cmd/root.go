// Package cmd provides the fabrik CLI commands: the thin activation front
// door that build tools shell out to before reading FABRIK_* environment
// variables from its stdout.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configFlag string
	prefixFlag string
)

var rootCmd = &cobra.Command{
	Use:     "fabrik",
	Short:   "Fabrik build-cache activation CLI",
	Version: Version,
	Long: `fabrik is the front door to the Fabrik build-cache daemon.

It discovers the nearest fabrik.toml, reuses an already-running daemon for
that configuration or spawns a fresh one, and prints the environment
variables a build tool should export to reach it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to fabrik.toml (overrides ancestor-directory discovery)")
	rootCmd.PersistentFlags().StringVar(&prefixFlag, "env-prefix", "FABRIK", "prefix for the exported identity env vars (<PREFIX>_HTTP_URL, ...); the FABRIK_CONFIG_* overlay prefix is fixed")
}

// Execute runs the root command and returns an exit code, mirroring the
// convention of letting main just os.Exit the result.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		return 1
	}
	return 0
}
