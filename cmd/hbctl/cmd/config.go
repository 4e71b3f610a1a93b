package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration",
	Long: `Print the configuration hbctl would use, in YAML: built-in defaults
merged with the config file, environment and flags. Secrets are masked.
Without a config file the output is a template of every option:

  hbctl config dump > config.yaml

Environment variables use the HBCTL_ prefix and underscores for nesting.
Example: server.port -> HBCTL_SERVER_PORT`,
	Args: cobra.NoArgs,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "# hbctl configuration")
	fmt.Fprintln(w, "# Durations: 30s, 5m, 720h. Sizes: 512KiB, 1MiB.")
	fmt.Fprintln(w)
	_, err = w.Write(out)
	return err
}
