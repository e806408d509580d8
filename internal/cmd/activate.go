package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuist/fabrik/internal/activation"
)

var daemonBinaryFlag string

func init() {
	activateCmd.Flags().StringVar(&daemonBinaryFlag, "daemon-binary", "fabrikd", "daemon executable to spawn if none is running")
	rootCmd.AddCommand(activateCmd)
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Reuse or spawn the daemon for the nearest fabrik.toml and print shell exports",
	Long: `activate discovers the nearest fabrik.toml (or honors --config), reuses
a live daemon already bound to it, or spawns one via --daemon-binary. On
success it prints "export NAME=value" lines on stdout for eval'ing into a
build shell.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := resolve()
		if err != nil {
			return err
		}

		handle, err := activation.Activate(context.Background(), r.stateDir, r.configPath, daemonBinaryFlag, healthURL)
		if err != nil {
			return fmt.Errorf("fabrik: activating daemon: %w", err)
		}

		env := activation.Env(prefixFlag, activation.URLs{
			HTTP:        fmt.Sprintf("http://127.0.0.1:%d", handle.Ports.HTTP),
			GRPC:        fmt.Sprintf("127.0.0.1:%d", handle.Ports.GRPC),
			XcodeServer: handle.Ports.Xcode,
			ConfigHash:  r.identity,
			DaemonPID:   handle.PID,
		})
		fmt.Fprint(os.Stdout, activation.ExportPrefix(env))
		return nil
	},
}
