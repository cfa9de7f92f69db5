package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/terravine/backend/internal/models"
	"github.com/terravine/backend/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print local queue and cache state",
	Long: `Inspects the local database directly and prints the number of
pending actions and cached entries. Works without a running server.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := store.Open(flagDataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	queued, err := s.CountQueued()
	if err != nil {
		return err
	}
	cached, err := s.CountCache()
	if err != nil {
		return err
	}
	actions, err := s.ListQueued()
	if err != nil {
		return err
	}

	conflicted := 0
	for _, a := range actions {
		if a.Status == models.ActionStatusConflicted {
			conflicted++
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"queue_depth":        queued,
		"conflicted_actions": conflicted,
		"cache_entries":      cached,
	})
}
