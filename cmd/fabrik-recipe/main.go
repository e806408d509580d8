// fabrik-recipe runs a single #FABRIK-annotated script against a local
// cache directory, restoring archived outputs on a cache hit or executing
// the script and archiving its declared outputs on a miss. Argument
// parsing itself stays deliberately minimal: this is the entrypoint a
// build hook shells out to, not a general-purpose CLI.
//
// Usage:
//
//	fabrik-recipe --cache-dir ~/.cache/fabrik script.sh
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tuist/fabrik/internal/diskstore"
	"github.com/tuist/fabrik/internal/recipe"
)

var cacheDirFlag = flag.String("cache-dir", "", "directory holding the local recipe cache (required)")

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "fabrik-recipe: ", log.LstdFlags)

	if *cacheDirFlag == "" {
		logger.Fatal("--cache-dir is required")
	}
	if flag.NArg() != 1 {
		logger.Fatal("usage: fabrik-recipe --cache-dir DIR SCRIPT")
	}

	if err := run(*cacheDirFlag, flag.Arg(0), logger); err != nil {
		logger.Fatal(err)
	}
}

func run(cacheDir, scriptPath string, logger *log.Logger) error {
	backend, err := diskstore.Open(diskstore.Options{Path: cacheDir, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer backend.Close()

	exec := &recipe.Executor{
		Backend: backend,
		Runtimes: recipe.Registry{
			"sh": recipe.ShellRuntime{},
		},
	}

	result, err := exec.Run(context.Background(), scriptPath)
	if err != nil {
		return fmt.Errorf("running %s: %w", scriptPath, err)
	}

	if result.Cached {
		fmt.Fprintf(os.Stdout, "cached: %s (%s)\n", scriptPath, result.Key)
	} else {
		fmt.Fprintf(os.Stdout, "ran: %s (%s)\n", scriptPath, result.Key)
	}
	return nil
}
