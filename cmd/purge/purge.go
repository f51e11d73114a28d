package purge

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/donantes/edge/cmd/helpers"
)

// PurgeCmd is the manual recovery action for a wedged local auth state:
// it removes every stored key with an authentication-related name.
var PurgeCmd = &cobra.Command{
	Use:   "purge-auth",
	Short: "Clear locally persisted authentication state",
	RunE:  runPurge,
}

func runPurge(cmd *cobra.Command, args []string) error {
	var resp struct {
		Cleared bool `json:"cleared"`
	}
	if err := helpers.CallAgent(cmd.Context(), http.MethodPost, "/sys/auth/purge", nil, &resp); err != nil {
		return err
	}

	if !resp.Cleared {
		return fmt.Errorf("purge reported failure; check the agent logs")
	}
	fmt.Println("Auth state cleared.")
	return nil
}
