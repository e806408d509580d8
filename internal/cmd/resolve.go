package cmd

import (
	"fmt"
	"os"

	"github.com/tuist/fabrik/internal/activation"
)

// resolved bundles the per-invocation discovery results every subcommand
// needs: which config file to activate against, its identity, and where
// its state directory lives.
type resolved struct {
	configPath string
	identity   string
	stateDir   string
}

func resolve() (resolved, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return resolved{}, fmt.Errorf("fabrik: getting working directory: %w", err)
	}

	configPath, err := activation.DiscoverConfig(cwd, configFlag, os.Getenv("XDG_CONFIG_HOME"))
	if err != nil {
		return resolved{}, fmt.Errorf("fabrik: %w", err)
	}

	identity, err := activation.IdentityForFile(configPath)
	if err != nil {
		return resolved{}, fmt.Errorf("fabrik: computing daemon identity: %w", err)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return resolved{}, fmt.Errorf("fabrik: resolving home directory: %w", err)
		}
		dataHome = home + "/.local/share"
	}

	return resolved{
		configPath: configPath,
		identity:   identity,
		stateDir:   activation.StateDir(dataHome, identity),
	}, nil
}

func healthURL(p activation.Ports) string {
	if p.HTTP == 0 {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d/health", p.HTTP)
}
