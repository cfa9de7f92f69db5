package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/terravine/backend/internal/remote"
	"github.com/terravine/backend/internal/store"
	"github.com/terravine/backend/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending-action queue once",
	Long: `Runs a single sync pass against the remote backend and prints the
result. Useful for scripted syncs and for draining without a running
server.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	s, err := store.Open(flagDataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	engine := sync.NewEngine(s, remote.NewHTTPBackend(flagBackendURL, flagAuthToken))
	result, err := engine.Run(context.Background(), nil)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
