package peer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service fabrik instances advertise and browse,
// per §4.7.
const ServiceType = "_fabrik._tcp"

// Advertiser publishes this instance's presence via mDNS, carrying
// machine_id, version, and accepting=1|0 in TXT records.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instanceName on port, advertising machineID, version,
// and accepting. Call Shutdown to withdraw the advertisement.
func Advertise(instanceName string, port int, machineID, version string, accepting bool) (*Advertiser, error) {
	txt := []string{
		"machine_id=" + machineID,
		"version=" + version,
		"accepting=" + boolFlag(accepting),
	}
	srv, err := zeroconf.Register(instanceName, ServiceType, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("peer: mdns advertise: %w", err)
	}
	return &Advertiser{server: srv}, nil
}

// Shutdown withdraws the mDNS advertisement.
func (a *Advertiser) Shutdown() { a.server.Shutdown() }

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Browser continuously browses ServiceType, feeding sightings into table.
type Browser struct {
	table *Table
	log   *log.Logger
}

// NewBrowser builds a Browser that populates table from mDNS sightings.
func NewBrowser(table *Table, logger *log.Logger) *Browser {
	return &Browser{table: table, log: logger}
}

// Run blocks, browsing until ctx is cancelled. Intended to run as a
// background goroutine for the daemon's lifetime.
func (b *Browser) Run(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("peer: mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		for entry := range entries {
			info, ok := parseEntry(entry)
			if !ok {
				continue
			}
			b.table.Upsert(info)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return fmt.Errorf("peer: mdns browse: %w", err)
	}
	<-ctx.Done()
	return nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Info, bool) {
	fields := map[string]string{}
	for _, kv := range entry.Text {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		fields[parts[0]] = parts[1]
	}
	machineID := fields["machine_id"]
	if machineID == "" {
		return Info{}, false
	}
	addr := ""
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0].String() + ":" + strconv.Itoa(entry.Port)
	} else if len(entry.AddrIPv6) > 0 {
		addr = "[" + entry.AddrIPv6[0].String() + "]:" + strconv.Itoa(entry.Port)
	} else {
		return Info{}, false
	}
	return Info{
		MachineID: machineID,
		Address:   addr,
		Version:   fields["version"],
		Accepting: fields["accepting"] == "1",
	}, true
}
