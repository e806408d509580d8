package peer

import (
	"fmt"

	"github.com/denisbrodbeck/machineid"
)

// LocalMachineID derives this host's advertised machine_id from the OS
// machine-id, hashed with the team secret as the app-ID salt via
// machineid.ProtectedID so the value is stable per machine but never the
// raw OS identifier.
func LocalMachineID(teamSecret string) (string, error) {
	id, err := machineid.ProtectedID(teamSecret)
	if err != nil {
		return "", fmt.Errorf("peer: deriving machine id: %w", err)
	}
	return id, nil
}
