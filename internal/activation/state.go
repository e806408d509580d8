package activation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateDir returns <xdgDataHome>/fabrik/daemons/<identity>, the directory
// holding a single daemon instance's pid, ports.json, and config_path.txt.
func StateDir(xdgDataHome, identity string) string {
	return filepath.Join(xdgDataHome, "fabrik", "daemons", identity)
}

// Ports is the content of ports.json: the OS-assigned listener ports a
// daemon publishes once every socket is bound and listening.
type Ports struct {
	HTTP    int `json:"http"`
	GRPC    int `json:"grpc"`
	Metrics int `json:"metrics"`

	// Xcode is the published XCODE_CACHE_SERVER value when the daemon was
	// configured with a unix-socket or separate TCP listener for the Xcode
	// adapter; empty when that adapter is only reachable through GRPC.
	Xcode string `json:"xcode,omitempty"`
}

func pidFile(stateDir string) string        { return filepath.Join(stateDir, "pid") }
func portsFile(stateDir string) string      { return filepath.Join(stateDir, "ports.json") }
func configPathFile(stateDir string) string { return filepath.Join(stateDir, "config_path.txt") }

// WritePID writes the daemon's own process ID to <stateDir>/pid.
func WritePID(stateDir string, pid int) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("activation: creating state dir %s: %w", stateDir, err)
	}
	return os.WriteFile(pidFile(stateDir), []byte(fmt.Sprintf("%d", pid)), 0o644)
}

// ReadPID reads the pid file. Returns 0, err on any failure (missing file
// included) — callers treat that as "no daemon recorded here".
func ReadPID(stateDir string) (int, error) {
	raw, err := os.ReadFile(pidFile(stateDir))
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(raw), "%d", &pid); err != nil {
		return 0, fmt.Errorf("activation: parsing pid file: %w", err)
	}
	return pid, nil
}

// WritePorts atomically publishes ports.json: write to a temp file in the
// same directory, then rename over the final name, so concurrent readers
// never observe a partially written file.
func WritePorts(stateDir string, ports Ports) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("activation: creating state dir %s: %w", stateDir, err)
	}
	raw, err := json.Marshal(ports)
	if err != nil {
		return fmt.Errorf("activation: marshaling ports: %w", err)
	}
	final := portsFile(stateDir)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("activation: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("activation: publishing %s: %w", final, err)
	}
	return nil
}

// ReadPorts reads and parses ports.json.
func ReadPorts(stateDir string) (Ports, error) {
	raw, err := os.ReadFile(portsFile(stateDir))
	if err != nil {
		return Ports{}, err
	}
	var ports Ports
	if err := json.Unmarshal(raw, &ports); err != nil {
		return Ports{}, fmt.Errorf("activation: parsing ports.json: %w", err)
	}
	return ports, nil
}

// WriteConfigPath records the config file this daemon was activated with.
func WriteConfigPath(stateDir, configPath string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("activation: creating state dir %s: %w", stateDir, err)
	}
	return os.WriteFile(configPathFile(stateDir), []byte(configPath), 0o644)
}

// RemoveState deletes pid, ports.json, and config_path.txt from stateDir,
// leaving the directory itself (and any lock sentinel inside it) intact.
func RemoveState(stateDir string) error {
	for _, f := range []string{pidFile(stateDir), portsFile(stateDir), configPathFile(stateDir)} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("activation: removing %s: %w", f, err)
		}
	}
	return nil
}
