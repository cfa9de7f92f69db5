package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terravine/backend/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired cache entries",
	Long: `Removes every expired entry from the local cache. The running
server does this hourly; this command is for one-off maintenance.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	s, err := store.Open(flagDataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	removed, err := s.SweepExpired(time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("removed %d expired cache entries\n", removed)
	return nil
}
