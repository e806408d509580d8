package activation

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/tuist/fabrik/internal/lock"
)

const (
	healthProbeTimeout = 250 * time.Millisecond
	spawnPollTimeout   = 5 * time.Second
	spawnPollInterval  = 100 * time.Millisecond
)

// Handle describes a daemon this process can now talk to, however it got
// there (an existing daemon it reused, or one it just spawned).
type Handle struct {
	StateDir string
	Ports    Ports
	PID      int
	Spawned  bool
}

// Activate implements the reuse-or-spawn algorithm: probe for an existing
// live, healthy daemon under stateDir; if none, acquire the sentinel lock
// and spawn one via daemonBinary --config configPath. httpHealthURL builds
// the health-check URL from a Ports value (the caller knows the daemon's
// health path convention).
func Activate(ctx context.Context, stateDir, configPath, daemonBinary string, httpHealthURL func(Ports) string) (Handle, error) {
	if h, ok := tryReuse(stateDir, httpHealthURL); ok {
		return h, nil
	}

	// A distinct path from daemon.New's own run lock (".daemon.lock"): this
	// one only coordinates concurrent CLI invocations racing to spawn, and
	// is held across the spawned daemon's entire startup and health-poll
	// wait. Sharing one lock file with the daemon's run lock would deadlock
	// every spawn, since the daemon's own New would then try to acquire the
	// same file this function is still holding.
	sentinel, acquired, err := lock.TryAcquire(fmt.Sprintf("%s.spawn.lock", stateDir))
	if err != nil {
		return Handle{}, fmt.Errorf("activation: acquiring spawn lock: %w", err)
	}
	if !acquired {
		// Another invocation is spawning right now; wait for it to finish
		// rather than racing to start a second daemon.
		return waitForSpawn(ctx, stateDir, httpHealthURL)
	}
	defer sentinel.Release()

	// Re-check now that we hold the lock: the previous holder may have
	// just finished spawning.
	if h, ok := tryReuse(stateDir, httpHealthURL); ok {
		return h, nil
	}

	if err := RemoveState(stateDir); err != nil {
		return Handle{}, fmt.Errorf("activation: clearing stale state: %w", err)
	}
	if err := WriteConfigPath(stateDir, configPath); err != nil {
		return Handle{}, err
	}

	cmd := exec.Command(daemonBinary, "--config", configPath)
	cmd.Stdout, cmd.Stderr = nil, nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("activation: spawning daemon: %w", err)
	}
	// Detach: the daemon outlives this CLI invocation.
	go cmd.Wait()

	return pollForSpawn(stateDir, cmd.Process.Pid)
}

func tryReuse(stateDir string, httpHealthURL func(Ports) string) (Handle, bool) {
	pid, err := ReadPID(stateDir)
	if err != nil {
		return Handle{}, false
	}
	if !processLive(pid) {
		return Handle{}, false
	}
	ports, err := ReadPorts(stateDir)
	if err != nil {
		return Handle{}, false
	}
	if !probeHealthy(httpHealthURL(ports)) {
		return Handle{}, false
	}
	return Handle{StateDir: stateDir, Ports: ports, PID: pid, Spawned: false}, true
}

func waitForSpawn(ctx context.Context, stateDir string, httpHealthURL func(Ports) string) (Handle, error) {
	deadline := time.Now().Add(spawnPollTimeout)
	for time.Now().Before(deadline) {
		if h, ok := tryReuse(stateDir, httpHealthURL); ok {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return Handle{}, ctx.Err()
		case <-time.After(spawnPollInterval):
		}
	}
	return Handle{}, fmt.Errorf("activation: timed out waiting for concurrent spawn of %s", stateDir)
}

func pollForSpawn(stateDir string, pid int) (Handle, error) {
	deadline := time.Now().Add(spawnPollTimeout)
	for time.Now().Before(deadline) {
		ports, err := ReadPorts(stateDir)
		if err == nil && processLive(pid) {
			return Handle{StateDir: stateDir, Ports: ports, PID: pid, Spawned: true}, nil
		}
		time.Sleep(spawnPollInterval)
	}
	return Handle{}, fmt.Errorf("activation: daemon did not publish ports.json within %s", spawnPollTimeout)
}

// processLive reports whether pid names a process that still exists, using
// signal 0 (no-op delivery, existence check only).
func processLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func probeHealthy(url string) bool {
	if url == "" {
		return false
	}
	client := &http.Client{Timeout: healthProbeTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Shutdown sends SIGTERM to pid and waits up to timeout for it to exit
// (polling process liveness), used both for normal CLI-driven shutdown and
// for an active daemon reclaiming an orphaned state directory.
func Shutdown(pid int, timeout time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("activation: signaling pid %d: %w", pid, err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processLive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("activation: pid %d still alive after %s", pid, timeout)
}
