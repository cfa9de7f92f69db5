package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/terravine/backend/internal/logging"
)

var (
	flagDataDir    string
	flagLogFile    string
	flagVerbose    bool
	flagBackendURL string
	flagAuthToken  string
)

var rootCmd = &cobra.Command{
	Use:   "vinesync",
	Short: "Offline-first field data core for vineyard operations",
	Long: `vinesync keeps field data usable without connectivity: reads are
served from a local TTL cache, writes queue locally and sync to the
remote backend when it becomes reachable.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !cmd.Root().PersistentFlags().Changed("data-dir") {
			if dir := os.Getenv("VINESYNC_DATA_DIR"); dir != "" {
				flagDataDir = dir
			}
		}

		level := logging.LevelInfo
		if flagVerbose {
			level = logging.LevelDebug
		}
		if flagLogFile != "" {
			logging.InitFile(flagLogFile, level)
		} else {
			logging.Init(os.Stderr, level)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "./data", "directory holding the local database")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "write logs to a rotating file instead of stderr")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagBackendURL, "backend-url", "http://localhost:8090", "remote backend base URL")
	rootCmd.PersistentFlags().StringVar(&flagAuthToken, "auth-token", "", "bearer token for the remote backend")
}
