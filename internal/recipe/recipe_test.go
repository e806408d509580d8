package recipe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tuist/fabrik/internal/diskstore"
)

func newTestBackend(t *testing.T) *diskstore.Store {
	t.Helper()
	s, err := diskstore.Open(diskstore.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("diskstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestParseAnnotationsRecognizesEveryDirective(t *testing.T) {
	script := strings.NewReader(`#!/bin/sh
#FABRIK input src/*.go hash=content
#FABRIK output dist/out.bin
#FABRIK env BUILD_MODE
#FABRIK depends other.sh use-outputs=true
#FABRIK cache ttl=1h key=extra
#FABRIK runtime sh
#FABRIK runtime-arg --flag
#FABRIK runtime-version
#FABRIK exec cwd=build timeout=30s
echo hi
`)
	ann, err := ParseAnnotations(script)
	if err != nil {
		t.Fatalf("ParseAnnotations: %v", err)
	}
	if len(ann.Inputs) != 1 || ann.Inputs[0].Glob != "src/*.go" || ann.Inputs[0].Method != HashContent {
		t.Fatalf("Inputs = %+v", ann.Inputs)
	}
	if len(ann.Outputs) != 1 || ann.Outputs[0] != "dist/out.bin" {
		t.Fatalf("Outputs = %+v", ann.Outputs)
	}
	if len(ann.Env) != 1 || ann.Env[0] != "BUILD_MODE" {
		t.Fatalf("Env = %+v", ann.Env)
	}
	if len(ann.Depends) != 1 || ann.Depends[0].Script != "other.sh" || !ann.Depends[0].UseOutputs {
		t.Fatalf("Depends = %+v", ann.Depends)
	}
	if ann.Cache.TTL.String() != "1h0m0s" || ann.Cache.Key != "extra" {
		t.Fatalf("Cache = %+v", ann.Cache)
	}
	if ann.Runtime != "sh" {
		t.Fatalf("Runtime = %q", ann.Runtime)
	}
	if len(ann.RuntimeArgs) != 1 || ann.RuntimeArgs[0] != "--flag" {
		t.Fatalf("RuntimeArgs = %+v", ann.RuntimeArgs)
	}
	if !ann.RuntimeVersion {
		t.Fatalf("RuntimeVersion = false")
	}
	if ann.Exec.Cwd != "build" || ann.Exec.Timeout.String() != "30s" {
		t.Fatalf("Exec = %+v", ann.Exec)
	}
}

func TestParseAnnotationsUnknownDirectiveFails(t *testing.T) {
	_, err := ParseAnnotations(strings.NewReader("#FABRIK bogus foo\n"))
	if err == nil {
		t.Fatalf("expected error for unknown directive")
	}
}

func TestParseAnnotationsStopsAtScriptBody(t *testing.T) {
	script := strings.NewReader("#FABRIK output a.txt\necho hi\n#FABRIK output b.txt\n")
	ann, err := ParseAnnotations(script)
	if err != nil {
		t.Fatalf("ParseAnnotations: %v", err)
	}
	if len(ann.Outputs) != 1 || ann.Outputs[0] != "a.txt" {
		t.Fatalf("Outputs = %+v, want only a.txt (second directive is past the script body)", ann.Outputs)
	}
}

func TestResolveInputsSortsByPath(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)

	fps, err := ResolveInputs(dir, []Input{{Glob: "*.txt", Method: HashContent}})
	if err != nil {
		t.Fatalf("ResolveInputs: %v", err)
	}
	if len(fps) != 2 || fps[0].Path != "a.txt" || fps[1].Path != "b.txt" {
		t.Fatalf("fps = %+v", fps)
	}
}

func TestResolveInputsContentHashChangesOnEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("v1"), 0o644)

	before, err := ResolveInputs(dir, []Input{{Glob: "f.txt", Method: HashContent}})
	if err != nil {
		t.Fatalf("ResolveInputs: %v", err)
	}

	os.WriteFile(path, []byte("v2"), 0o644)
	after, err := ResolveInputs(dir, []Input{{Glob: "f.txt", Method: HashContent}})
	if err != nil {
		t.Fatalf("ResolveInputs: %v", err)
	}

	if before[0].Fingerprint == after[0].Fingerprint {
		t.Fatalf("fingerprint did not change after edit")
	}
}

func TestCacheKeyStableUnderSameInputs(t *testing.T) {
	ki := KeyInputs{
		ScriptBytes: []byte("echo hi"),
		RuntimeID:   "sh",
		Inputs:      []InputFingerprint{{Path: "a.txt", Fingerprint: "abc"}},
		Env:         []EnvFingerprint{{Name: "X", Value: "1", Present: true}},
	}
	k1 := CacheKey(ki)
	k2 := CacheKey(ki)
	if k1 != k2 {
		t.Fatalf("CacheKey not stable: %s vs %s", k1, k2)
	}
	if !strings.HasPrefix(k1, keyPrefix) {
		t.Fatalf("CacheKey missing namespace prefix: %s", k1)
	}
}

func TestCacheKeyDiffersOnEnvPresence(t *testing.T) {
	base := KeyInputs{ScriptBytes: []byte("echo hi"), RuntimeID: "sh"}
	withAbsent := base
	withAbsent.Env = []EnvFingerprint{{Name: "X", Present: false}}
	withEmpty := base
	withEmpty.Env = []EnvFingerprint{{Name: "X", Value: "", Present: true}}

	if CacheKey(withAbsent) == CacheKey(withEmpty) {
		t.Fatalf("absent and empty-but-present env values must not collide")
	}
}

func TestCacheKeyDiffersOnExtraKey(t *testing.T) {
	base := KeyInputs{ScriptBytes: []byte("echo hi"), RuntimeID: "sh"}
	withExtra := base
	withExtra.ExtraKey = "v2"

	if CacheKey(base) == CacheKey(withExtra) {
		t.Fatalf("ExtraKey must affect the cache key")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	srcDir := t.TempDir()
	os.WriteFile(filepath.Join(srcDir, "out.txt"), []byte("result"), 0o644)

	digest, err := Archive(ctx, backend, srcDir, []string{"out.txt"})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	destDir := t.TempDir()
	if err := Restore(ctx, backend, digest.Hash, destDir); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "out.txt"))
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if string(got) != "result" {
		t.Fatalf("restored content = %q, want %q", got, "result")
	}
}

func TestExecutorCachesSecondRun(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	dir := t.TempDir()
	script := filepath.Join(dir, "build.sh")
	os.WriteFile(script, []byte("#!/bin/sh\n#FABRIK output out.txt\necho hi > out.txt\n"), 0o755)

	exec := &Executor{Backend: backend, Runtimes: Registry{"sh": ShellRuntime{}}}

	res1, err := exec.Run(ctx, script)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if res1.Cached {
		t.Fatalf("first run should not be cached")
	}
	os.Remove(filepath.Join(dir, "out.txt"))

	res2, err := exec.Run(ctx, script)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !res2.Cached {
		t.Fatalf("second run should be served from cache")
	}
	if res1.Key != res2.Key {
		t.Fatalf("cache key changed between runs: %s vs %s", res1.Key, res2.Key)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err != nil {
		t.Fatalf("restored output missing: %v", err)
	}
}

func TestExecutorUnsupportedRuntimeFails(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	dir := t.TempDir()
	script := filepath.Join(dir, "build.sh")
	os.WriteFile(script, []byte("#FABRIK runtime js\necho hi\n"), 0o755)

	exec := &Executor{Backend: backend, Runtimes: Registry{}}
	if _, err := exec.Run(ctx, script); err == nil {
		t.Fatalf("expected ErrUnsupportedRuntime")
	}
}

func TestExecutorResolvesDependsRecursively(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	dir := t.TempDir()
	depScript := filepath.Join(dir, "dep.sh")
	os.WriteFile(depScript, []byte("#FABRIK output dep.out\necho dep > dep.out\n"), 0o755)

	mainScript := filepath.Join(dir, "main.sh")
	os.WriteFile(mainScript, []byte("#FABRIK depends dep.sh\n#FABRIK output main.out\necho main > main.out\n"), 0o755)

	exec := &Executor{Backend: backend, Runtimes: Registry{"sh": ShellRuntime{}}}
	if _, err := exec.Run(ctx, mainScript); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "dep.out")); err != nil {
		t.Fatalf("dependency output missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "main.out")); err != nil {
		t.Fatalf("main output missing: %v", err)
	}
}
