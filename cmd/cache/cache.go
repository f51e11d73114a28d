package cache

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/donantes/edge/cmd/helpers"
)

var CacheCmd = &cobra.Command{
	Use:   "cache-status",
	Short: "Show the agent's cache generation and counters",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status struct {
		Generation    string `json:"generation"`
		Phase         string `json:"phase"`
		StaticEntries int    `json:"static_entries"`
		RuntimeHits   uint64 `json:"runtime_hits"`
		RuntimeMisses uint64 `json:"runtime_misses"`
	}
	if err := helpers.CallAgent(cmd.Context(), http.MethodGet, "/sys/cache/status", nil, &status); err != nil {
		return err
	}

	fmt.Printf("Generation:      %s\n", status.Generation)
	fmt.Printf("Phase:           %s\n", status.Phase)
	fmt.Printf("Static entries:  %d\n", status.StaticEntries)
	fmt.Printf("Runtime hits:    %d\n", status.RuntimeHits)
	fmt.Printf("Runtime misses:  %d\n", status.RuntimeMisses)
	return nil
}
