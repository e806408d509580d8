package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tuist/fabrik/internal/activation"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a daemon is running for the nearest fabrik.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := resolve()
		if err != nil {
			return err
		}

		pid, err := activation.ReadPID(r.stateDir)
		if err != nil {
			fmt.Printf("no daemon recorded for %s (identity %s)\n", r.configPath, r.identity)
			return nil
		}
		ports, err := activation.ReadPorts(r.stateDir)
		if err != nil {
			fmt.Printf("daemon pid %d recorded but ports.json unreadable: %v\n", pid, err)
			return nil
		}
		fmt.Printf("config:   %s\n", r.configPath)
		fmt.Printf("identity: %s\n", r.identity)
		fmt.Printf("pid:      %d\n", pid)
		fmt.Printf("http:     127.0.0.1:%d\n", ports.HTTP)
		fmt.Printf("grpc:     127.0.0.1:%d\n", ports.GRPC)

		if stats, err := fetchStats(ports.HTTP); err == nil {
			fmt.Printf("cache:    %s across %s objects (%s hit ratio)\n",
				humanize.IBytes(uint64(stats.TotalBytes)),
				humanize.Comma(stats.ObjectCount),
				humanize.FormatFloat("#.##%", stats.HitRatio*100))
		}
		return nil
	},
}

type statsSummary struct {
	TotalBytes  int64   `json:"total_bytes"`
	ObjectCount int64   `json:"object_count"`
	HitRatio    float64 `json:"hit_ratio"`
}

// fetchStats queries the running daemon's own stats endpoint rather than
// reopening its disk cache, since the daemon process holds the only safe
// writer handle to it.
func fetchStats(httpPort int) (statsSummary, error) {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/stats", httpPort))
	if err != nil {
		return statsSummary{}, err
	}
	defer resp.Body.Close()

	var s statsSummary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return statsSummary{}, err
	}
	return s, nil
}
