// Package activation implements config discovery, daemon identity, and the
// reuse-or-spawn handshake a client CLI invocation performs before emitting
// shell exports that point build tools at a running daemon.
package activation

import (
	"errors"
	"os"
	"path/filepath"
)

// configFileNames are tried, in order, in each ancestor directory.
var configFileNames = []string{"fabrik.toml", ".fabrik.toml"}

// ErrConfigNotFound is returned when no fabrik.toml is found by walking
// ancestors of start and no XDG fallback file exists either.
var ErrConfigNotFound = errors.New("activation: no fabrik.toml found")

// DiscoverConfig locates the config file to activate against. explicit, if
// non-empty, overrides discovery entirely (the --config flag). Otherwise it
// walks start's ancestors looking for fabrik.toml or .fabrik.toml, falling
// back to <xdgConfigHome>/fabrik/config.toml.
func DiscoverConfig(start, explicit, xdgConfigHome string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range configFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if xdgConfigHome != "" {
		fallback := filepath.Join(xdgConfigHome, "fabrik", "config.toml")
		if _, err := os.Stat(fallback); err == nil {
			return fallback, nil
		}
	}

	return "", ErrConfigNotFound
}
