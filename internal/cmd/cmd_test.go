package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tuist/fabrik/internal/activation"
)

func TestResolveDiscoversConfigInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "fabrik.toml")
	os.WriteFile(configPath, []byte("[cache]\ndir = \"/tmp/x\"\n"), 0o644)

	t.Chdir(dir)
	oldConfig, oldData := configFlag, os.Getenv("XDG_DATA_HOME")
	configFlag = ""
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	defer func() { configFlag = oldConfig; os.Setenv("XDG_DATA_HOME", oldData) }()

	r, err := resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.configPath != configPath {
		t.Fatalf("configPath = %s, want %s", r.configPath, configPath)
	}
	wantIdentity, err := activation.IdentityForFile(configPath)
	if err != nil {
		t.Fatalf("IdentityForFile: %v", err)
	}
	if r.identity != wantIdentity {
		t.Fatalf("identity = %s, want %s", r.identity, wantIdentity)
	}
}

func TestHealthURLEmptyWhenPortUnset(t *testing.T) {
	if got := healthURL(activation.Ports{}); got != "" {
		t.Fatalf("healthURL(zero) = %q, want empty", got)
	}
}

func TestHealthURLBuildsLoopbackAddress(t *testing.T) {
	got := healthURL(activation.Ports{HTTP: 4321})
	want := "http://127.0.0.1:4321/health"
	if got != want {
		t.Fatalf("healthURL = %q, want %q", got, want)
	}
}

func TestStatusReportsNoDaemonWhenUnrecorded(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "fabrik.toml"), []byte("[cache]\ndir = \"/tmp/x\"\n"), 0o644)
	t.Chdir(dir)
	oldConfig := configFlag
	configFlag = ""
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	defer func() { configFlag = oldConfig }()

	if err := statusCmd.RunE(statusCmd, nil); err != nil {
		t.Fatalf("statusCmd.RunE: %v", err)
	}
}
