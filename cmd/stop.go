package cmd

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/rttprobe/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running probe",
	Long: `Stop the probe recorded in the PID file gracefully.

SIGTERM is sent; the probe stops ingest, lets every worker finish its
current cycle, flushes queued batches and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.StopRunning(pidFile, stopTimeout); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rttprobe stopped")
		return nil
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Ask a running probe to log its counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return daemon.Signal(pidFile, syscall.SIGHUP)
	},
}

var stopTimeout time.Duration

func init() {
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 10*time.Second,
		"time to wait for the probe to exit")
}
