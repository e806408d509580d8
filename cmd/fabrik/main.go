// fabrik is the activation front door build tools shell out to: it
// discovers the nearest fabrik.toml, reuses or spawns the matching
// daemon, and prints the environment variables to export.
package main

import (
	"os"

	"github.com/tuist/fabrik/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
