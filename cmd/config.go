package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/rttprobe/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective result",
	Long: `Load the configuration file, apply defaults and environment overrides,
validate it and print the effective configuration as YAML.

Examples:
  rttprobe config validate -c /etc/rttprobe/config.yml
  RTTPROBE_PROBE_UDP_PORT=9000 rttprobe config validate -c config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
