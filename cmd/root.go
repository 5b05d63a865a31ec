// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/rttprobe/internal/version"
)

var (
	// Global flags
	configFile string
	pidFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rttprobe",
	Short: "rttprobe - per-core flow round-trip-time probe",
	Long: `rttprobe consumes captured frames from a shared buffer ring, recognizes
UDP probe packets carrying flow latency timestamps, and publishes one
protobuf batch of probe records per dequeue cycle on a per-core push
channel (ZeroMQ or Kafka).

Features:
  - One busy-polling worker per core, optionally pinned
  - Bounded, non-blocking publish with per-reason drop accounting
  - AF_PACKET capture or pcap replay into the shared ring
  - Prometheus metrics and structured asynchronous logging`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/rttprobe/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "/var/run/rttprobe.pid",
		"PID file path")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rttprobe %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
	},
}
