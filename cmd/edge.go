package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/donantes/edge/cmd/cache"
	"github.com/donantes/edge/cmd/login"
	"github.com/donantes/edge/cmd/purge"
	"github.com/donantes/edge/cmd/server"
)

var edgeCmd = &cobra.Command{
	Use:   "edged",
	Short: "edged is the local agent for the Donantes client",
	Long: `edged runs alongside the Donantes client UI. It owns the durable token
store, bridges identity-provider sessions to backend access tokens, and
serves fetches through a versioned offline cache.`,
}

func Execute() {
	if err := edgeCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	edgeCmd.AddCommand(server.ServerCmd)
	edgeCmd.AddCommand(login.LoginCmd)
	edgeCmd.AddCommand(login.LogoutCmd)
	edgeCmd.AddCommand(purge.PurgeCmd)
	edgeCmd.AddCommand(cache.CacheCmd)
}
