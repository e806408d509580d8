package daemon

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/tuist/fabrik/internal/activation"
)

func TestRunPublishesPortsAndShutsDownOnCancel(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "identity")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	d, err := New(Config{
		StateDir:                stateDir,
		ConfigPath:              "/tmp/fabrik.toml",
		HTTPHandler:             handler,
		GracefulShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	var ports activation.Ports
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ports, err = activation.ReadPorts(stateDir)
		if err == nil && ports.HTTP != 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ports.HTTP == 0 {
		t.Fatal("ports.json never published a non-zero HTTP port")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return within the shutdown timeout")
	}

	if _, err := activation.ReadPorts(stateDir); err == nil {
		t.Fatal("ports.json still present after graceful shutdown")
	}
}

func TestNewRefusesSecondDaemonOnSameIdentity(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "identity")

	first, err := New(Config{StateDir: stateDir, HTTPHandler: http.NotFoundHandler()})
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	defer first.sentinel.Release()

	if _, err := New(Config{StateDir: stateDir, HTTPHandler: http.NotFoundHandler()}); err == nil {
		t.Fatal("second New succeeded while first daemon holds the run lock, want error")
	}
}
