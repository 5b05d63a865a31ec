package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/rttprobe/internal/daemon"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the probe in foreground",
	Long: `Run the probe process in foreground.

The process will:
  1. Load configuration from the config file
  2. Initialize logging and metrics
  3. Create the shared buffer ring and pool
  4. Start one worker per configured core, each binding its publish port
  5. Start the configured ingest feeder
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and stats (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func runDaemon() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	return d.Run()
}
