package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuist/fabrik/internal/activation"
)

var shutdownTimeoutFlag time.Duration

func init() {
	shutdownCmd.Flags().DurationVar(&shutdownTimeoutFlag, "timeout", 10*time.Second, "how long to wait for graceful exit before giving up")
	rootCmd.AddCommand(shutdownCmd)
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Signal the daemon for the nearest fabrik.toml to exit gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := resolve()
		if err != nil {
			return err
		}

		pid, err := activation.ReadPID(r.stateDir)
		if err != nil {
			return fmt.Errorf("fabrik: no daemon recorded for %s", r.configPath)
		}
		if err := activation.Shutdown(pid, shutdownTimeoutFlag); err != nil {
			return fmt.Errorf("fabrik: %w", err)
		}
		fmt.Printf("daemon pid %d stopped\n", pid)
		return nil
	},
}
