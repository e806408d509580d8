package recipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/tuist/fabrik/internal/store"
)

// Runtime executes a resolved script body (the non-annotation remainder)
// with the given runtime arguments and environment, inside workDir. The
// builtin shell runtime always exists; other runtime identifiers are
// resolved via a Registry.
type Runtime interface {
	// Version reports the runtime's own version string, consulted when a
	// recipe declares runtime-version so it participates in the cache key.
	Version(ctx context.Context) (string, error)

	// Run executes scriptPath with args inside workDir using env (in
	// addition to the process's inherited environment).
	Run(ctx context.Context, scriptPath, workDir string, args []string, env map[string]string) error
}

// Registry resolves a runtime identifier (e.g. "sh", "python", "js") to a
// Runtime implementation. internal/recipe/jsruntime (built with the
// fabrik_js tag) provides a JS Runtime, but nothing adds it to a Registry;
// looking up "js" in a Registry without that entry reports
// ErrUnsupportedRuntime.
type Registry map[string]Runtime

// ErrUnsupportedRuntime is returned when a recipe names a runtime this
// binary was not built with support for.
var ErrUnsupportedRuntime = fmt.Errorf("recipe: unsupported runtime")

func (r Registry) lookup(name string) (Runtime, error) {
	if name == "" {
		name = "sh"
	}
	rt, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRuntime, name)
	}
	return rt, nil
}

// ShellRuntime runs a script through the system shell via exec.Command, in
// the working directory and under the context the Executor passes in (the
// Executor applies Exec.Cwd and Exec.Timeout). The shell is ShellRuntime.Shell;
// the recipe's Exec.Shell annotation is not consulted.
type ShellRuntime struct {
	Shell string // defaults to "sh" if empty
}

func (s ShellRuntime) Version(ctx context.Context) (string, error) {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}
	out, err := exec.CommandContext(ctx, shell, "--version").Output()
	if err != nil {
		return "", nil // version reporting is best-effort; absence is not fatal
	}
	return strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0]), nil
}

func (s ShellRuntime) Run(ctx context.Context, scriptPath, workDir string, args []string, env map[string]string) error {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}
	cmdArgs := append([]string{scriptPath}, args...)
	cmd := exec.CommandContext(ctx, shell, cmdArgs...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Executor runs recipe scripts against a KV namespace (cache-key lookup)
// and CAS (archived outputs), resolving nested `depends` scripts
// recursively before running the requested one.
type Executor struct {
	Backend  store.Composite
	Runtimes Registry
	BaseEnv  func(string) (string, bool) // defaults to os.LookupEnv
}

// Result reports whether a recipe's outputs were served from cache or
// produced by a fresh run, and the cache key used.
type Result struct {
	Key    string
	Cached bool
}

// Run resolves scriptPath's annotations, computes its cache key
// (recursively resolving `depends` scripts whose outputs are needed
// first), and either restores previously archived outputs or executes
// the script and archives what it produces.
func (e *Executor) Run(ctx context.Context, scriptPath string) (Result, error) {
	return e.run(ctx, scriptPath, map[string]bool{})
}

func (e *Executor) run(ctx context.Context, scriptPath string, visiting map[string]bool) (Result, error) {
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return Result{}, fmt.Errorf("recipe: resolving %s: %w", scriptPath, err)
	}
	if visiting[abs] {
		return Result{}, fmt.Errorf("recipe: dependency cycle at %s", scriptPath)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	scriptBytes, err := os.ReadFile(abs)
	if err != nil {
		return Result{}, fmt.Errorf("recipe: reading script %s: %w", scriptPath, err)
	}
	ann, err := ParseAnnotations(bytes.NewReader(scriptBytes))
	if err != nil {
		return Result{}, fmt.Errorf("recipe: parsing %s: %w", scriptPath, err)
	}

	baseDir := filepath.Dir(abs)

	for _, dep := range ann.Depends {
		depPath := dep.Script
		if !filepath.IsAbs(depPath) {
			depPath = filepath.Join(baseDir, depPath)
		}
		if _, err := e.run(ctx, depPath, visiting); err != nil {
			return Result{}, fmt.Errorf("recipe: running dependency %s: %w", dep.Script, err)
		}
	}

	lookup := e.BaseEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	rt, err := e.Runtimes.lookup(ann.Runtime)
	if err != nil {
		return Result{}, err
	}

	runtimeVersion := ""
	if ann.RuntimeVersion {
		runtimeVersion, err = rt.Version(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("recipe: querying runtime version: %w", err)
		}
	}

	inputs, err := ResolveInputs(baseDir, ann.Inputs)
	if err != nil {
		return Result{}, err
	}
	envFp := ResolveEnv(ann.Env, lookup)

	key := CacheKey(KeyInputs{
		ScriptBytes:    scriptBytes,
		RuntimeID:      ann.Runtime,
		RuntimeVersion: runtimeVersion,
		Inputs:         inputs,
		Env:            envFp,
		ExtraKey:       ann.Cache.Key,
	})

	if !ann.Cache.Disabled {
		if entry, ok, err := e.lookupEntry(ctx, key); err != nil {
			return Result{}, err
		} else if ok {
			if err := Restore(ctx, e.Backend, entry, baseDir); err == nil {
				return Result{Key: key, Cached: true}, nil
			}
			// A corrupt archive invalidates the entry and falls through to
			// re-execution rather than propagating the restore error.
			e.Backend.KVDelete(ctx, key)
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if ann.Exec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, ann.Exec.Timeout)
		defer cancel()
	}

	execArgs, err := shlex.Split(strings.Join(ann.RuntimeArgs, " "))
	if err != nil {
		return Result{}, fmt.Errorf("recipe: tokenizing runtime args: %w", err)
	}

	workDir := baseDir
	if ann.Exec.Cwd != "" {
		workDir = filepath.Join(baseDir, ann.Exec.Cwd)
	}

	runEnv := make(map[string]string, len(envFp))
	for _, ev := range envFp {
		if ev.Present {
			runEnv[ev.Name] = ev.Value
		}
	}

	if err := rt.Run(runCtx, abs, workDir, execArgs, runEnv); err != nil {
		return Result{}, fmt.Errorf("recipe: executing %s: %w", scriptPath, err)
	}

	if ann.Cache.Disabled || len(ann.Outputs) == 0 {
		return Result{Key: key, Cached: false}, nil
	}

	digest, err := Archive(ctx, e.Backend, baseDir, ann.Outputs)
	if err != nil {
		return Result{}, err
	}
	if err := e.Backend.KVPut(ctx, key, []byte(digest.Hash.String())); err != nil {
		return Result{}, fmt.Errorf("recipe: recording cache entry: %w", err)
	}

	return Result{Key: key, Cached: false}, nil
}

func (e *Executor) lookupEntry(ctx context.Context, key string) (store.Hash, bool, error) {
	raw, err := e.Backend.KVGet(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Hash{}, false, nil
		}
		return store.Hash{}, false, fmt.Errorf("recipe: looking up cache entry: %w", err)
	}
	hash, err := store.ParseHash(string(raw))
	if err != nil {
		return store.Hash{}, false, fmt.Errorf("recipe: decoding cache entry: %w", err)
	}
	return hash, true, nil
}
