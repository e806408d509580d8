package activation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverConfigExplicitOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	os.WriteFile(path, []byte("[cache]\n"), 0o644)

	got, err := DiscoverConfig("/nonexistent", path, "")
	if err != nil {
		t.Fatalf("DiscoverConfig: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestDiscoverConfigWalksAncestors(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(root, "a", "fabrik.toml")
	if err := os.WriteFile(cfgPath, []byte("[cache]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DiscoverConfig(nested, "", "")
	if err != nil {
		t.Fatalf("DiscoverConfig: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestDiscoverConfigFallsBackToXDG(t *testing.T) {
	start := t.TempDir()
	xdg := t.TempDir()
	fallback := filepath.Join(xdg, "fabrik", "config.toml")
	if err := os.MkdirAll(filepath.Dir(fallback), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fallback, []byte("[cache]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DiscoverConfig(start, "", xdg)
	if err != nil {
		t.Fatalf("DiscoverConfig: %v", err)
	}
	if got != fallback {
		t.Errorf("got %q, want %q", got, fallback)
	}
}

func TestDiscoverConfigNotFound(t *testing.T) {
	start := t.TempDir()
	if _, err := DiscoverConfig(start, "", t.TempDir()); err != ErrConfigNotFound {
		t.Fatalf("err = %v, want ErrConfigNotFound", err)
	}
}

func TestIdentityIsDeterministic(t *testing.T) {
	a := Identity([]byte("[cache]\ndir = \"/tmp\"\n"))
	b := Identity([]byte("[cache]\ndir = \"/tmp\"\n"))
	if a != b {
		t.Fatalf("Identity not deterministic: %q != %q", a, b)
	}
	if len(a) != identityLen {
		t.Fatalf("len(Identity) = %d, want %d", len(a), identityLen)
	}
}

func TestIdentityDiffersOnByteChange(t *testing.T) {
	a := Identity([]byte("[cache]\ndir = \"/tmp\"\n"))
	b := Identity([]byte("[cache]\ndir = \"/tmp2\"\n"))
	if a == b {
		t.Fatal("Identity collided on different content")
	}
}

func TestPortsRoundTripAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	want := Ports{HTTP: 51234, GRPC: 51235, Metrics: 51236}
	if err := WritePorts(dir, want); err != nil {
		t.Fatalf("WritePorts: %v", err)
	}
	got, err := ReadPorts(dir)
	if err != nil {
		t.Fatalf("ReadPorts: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "ports.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after atomic rename")
	}
}

func TestRemoveStateClearsFiles(t *testing.T) {
	dir := t.TempDir()
	WritePID(dir, 1234)
	WritePorts(dir, Ports{HTTP: 1})
	WriteConfigPath(dir, "/etc/fabrik.toml")

	if err := RemoveState(dir); err != nil {
		t.Fatalf("RemoveState: %v", err)
	}
	if _, err := ReadPID(dir); err == nil {
		t.Fatal("pid file still readable after RemoveState")
	}
	if _, err := ReadPorts(dir); err == nil {
		t.Fatal("ports.json still readable after RemoveState")
	}
}

func TestExportPrefixDeterministicAndQuoted(t *testing.T) {
	env := Env("", URLs{
		HTTP:       "http://127.0.0.1:51234",
		GRPC:       "grpc://127.0.0.1:51235",
		ConfigHash: "abcd1234abcd1234",
		DaemonPID:  4242,
	})
	out := ExportPrefix(env)
	if out == "" {
		t.Fatal("ExportPrefix returned empty string for non-empty env")
	}
	if _, ok := env["TURBO_TEAM"]; ok {
		t.Fatal("TURBO_TEAM should be omitted when URLs.TurboTeam is empty")
	}
	want := "export FABRIK_CONFIG_HASH='abcd1234abcd1234'\n"
	if out[:len(want)] != want {
		t.Fatalf("first line = %q, want %q (keys must sort alphabetically)", out[:len(want)], want)
	}
}

func TestShellQuoteEscapesEmbeddedQuote(t *testing.T) {
	got := shellQuote("it's here")
	want := `'it'"'"'s here'`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestActivateReusesHealthyDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	WritePID(dir, os.Getpid())
	WritePorts(dir, Ports{HTTP: 1})

	h, err := Activate(context.Background(), dir, "", "", func(Ports) string { return srv.URL })
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if h.Spawned {
		t.Fatal("Spawned = true, want reuse of existing healthy daemon")
	}
	if h.PID != os.Getpid() {
		t.Fatalf("PID = %d, want %d", h.PID, os.Getpid())
	}
}

func TestProbeHealthyRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if probeHealthy(srv.URL) {
		t.Fatal("probeHealthy = true for a 503 response")
	}
}

func TestProcessLiveDetectsDeadPID(t *testing.T) {
	// A PID that is astronomically unlikely to be alive.
	if processLive(1 << 30) {
		t.Fatal("processLive = true for an implausible PID")
	}
}
