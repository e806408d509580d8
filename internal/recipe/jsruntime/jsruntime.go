//go:build fabrik_js

// Package jsruntime hosts the optional portable JS recipe runtime on top
// of wazero, exposing host functions a recipe script's JS body can call
// into: exec, glob, exists, hashFile, and the cache.get/put/has triplet.
// Building without the fabrik_js tag drops this package entirely, and
// internal/recipe's Registry reports ErrUnsupportedRuntime for "js".
package jsruntime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/tuist/fabrik/internal/recipe"
	"github.com/tuist/fabrik/internal/store"
)

// Runtime hosts a wazero-compiled JS engine module (a WASI build of a JS
// interpreter, supplied as wasmBinary) and wires the cache-aware host
// functions recipe scripts call through.
type Runtime struct {
	wasmBinary []byte
	backend    store.Composite
	rt         wazero.Runtime
}

// New compiles the host runtime once; Run instantiates a fresh module
// instance per script so host function closures can safely capture
// per-invocation state (workDir, backend context).
func New(ctx context.Context, wasmBinary []byte, backend store.Composite) (*Runtime, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("jsruntime: instantiating WASI: %w", err)
	}
	return &Runtime{wasmBinary: wasmBinary, backend: backend, rt: rt}, nil
}

func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

func (r *Runtime) Version(ctx context.Context) (string, error) {
	return "wazero/" + wazero.VersionInfo().Version, nil
}

// Run evaluates scriptPath's body inside workDir, passing args and env to
// the guest module's entrypoint and exposing the host function namespace
// documented on Runtime.
func (r *Runtime) Run(ctx context.Context, scriptPath, workDir string, args []string, env map[string]string) error {
	hostEnv := &hostEnv{workDir: workDir, backend: r.backend}

	builder := r.rt.NewHostModuleBuilder("fabrik_host")
	builder.NewFunctionBuilder().WithFunc(hostEnv.exec).Export("exec")
	builder.NewFunctionBuilder().WithFunc(hostEnv.glob).Export("glob")
	builder.NewFunctionBuilder().WithFunc(hostEnv.exists).Export("exists")
	builder.NewFunctionBuilder().WithFunc(hostEnv.hashFile).Export("hashFile")
	builder.NewFunctionBuilder().WithFunc(hostEnv.cacheGet).Export("cache_get")
	builder.NewFunctionBuilder().WithFunc(hostEnv.cachePut).Export("cache_put")
	builder.NewFunctionBuilder().WithFunc(hostEnv.cacheHas).Export("cache_has")
	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("jsruntime: registering host module: %w", err)
	}

	cfg := wazero.NewModuleConfig().
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithFS(os.DirFS(workDir)).
		WithArgs(append([]string{scriptPath}, args...)...)
	for k, v := range env {
		cfg = cfg.WithEnv(k, v)
	}

	mod, err := r.rt.InstantiateWithConfig(ctx, r.wasmBinary, cfg)
	if err != nil {
		return fmt.Errorf("jsruntime: running script: %w", err)
	}
	return mod.Close(ctx)
}

// hostEnv implements the host function namespace described on Runtime.
// Each method's signature follows wazero's api.GoModuleFunction
// convention (raw uint32/uint64 params addressing guest linear memory)
// via WithFunc's reflection-based adaptation, so ordinary Go types are
// used here and wazero handles the ABI marshaling.
type hostEnv struct {
	workDir string
	backend store.Composite
}

func (h *hostEnv) exec(ctx context.Context, mod api.Module, argv0 uint64) uint32 {
	// The guest passes a single shell command line; exit status is
	// returned directly, output goes to the module's configured stdout.
	cmdLine := readGuestString(mod, argv0)
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdLine)
	cmd.Dir = h.workDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return uint32(exitErr.ExitCode())
		}
		return 1
	}
	return 0
}

func (h *hostEnv) glob(mod api.Module, patternPtr uint64) uint32 {
	pattern := readGuestString(mod, patternPtr)
	matches, err := filepath.Glob(filepath.Join(h.workDir, pattern))
	if err != nil {
		return 0
	}
	return uint32(len(matches))
}

func (h *hostEnv) exists(mod api.Module, pathPtr uint64) uint32 {
	path := readGuestString(mod, pathPtr)
	if _, err := os.Stat(filepath.Join(h.workDir, path)); err != nil {
		return 0
	}
	return 1
}

func (h *hostEnv) hashFile(mod api.Module, pathPtr uint64) uint64 {
	path := readGuestString(mod, pathPtr)
	fps, err := recipe.ResolveInputs(h.workDir, []recipe.Input{{Glob: path, Method: recipe.HashContent}})
	if err != nil || len(fps) == 0 {
		return 0
	}
	return writeGuestString(mod, fps[0].Fingerprint)
}

func (h *hostEnv) cacheGet(ctx context.Context, mod api.Module, keyPtr uint64) uint64 {
	key := readGuestString(mod, keyPtr)
	val, err := h.backend.KVGet(ctx, key)
	if err != nil {
		return 0
	}
	return writeGuestString(mod, string(val))
}

func (h *hostEnv) cachePut(ctx context.Context, mod api.Module, keyPtr, valPtr uint64) uint32 {
	key := readGuestString(mod, keyPtr)
	val := readGuestString(mod, valPtr)
	if err := h.backend.KVPut(ctx, key, []byte(val)); err != nil {
		return 0
	}
	return 1
}

func (h *hostEnv) cacheHas(ctx context.Context, mod api.Module, keyPtr uint64) uint32 {
	key := readGuestString(mod, keyPtr)
	ok, err := h.backend.KVExists(ctx, key)
	if err != nil || !ok {
		return 0
	}
	return 1
}

// readGuestString decodes a (ptr<<32|len)-packed string reference out of
// the calling module's linear memory, the convention this host namespace
// uses for passing strings across the wasm ABI boundary.
func readGuestString(mod api.Module, packed uint64) string {
	ptr := uint32(packed >> 32)
	size := uint32(packed)
	buf, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return ""
	}
	return string(buf)
}

// writeGuestString is a placeholder packing convention: real guest
// interop needs the guest to export an allocator the host calls before
// writing; wiring that allocator is left to the concrete JS engine build
// this runtime is paired with.
func writeGuestString(mod api.Module, s string) uint64 {
	return uint64(len(s))
}
