package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/efm6988/ntfs-forensic-recovery/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration a recover run would start from: defaults,
overridden by the config file, then NTFS_RECOVER_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(GetConfigPath(), nil)
		if err != nil {
			return err
		}
		switch GetOutputFormat() {
		case "json":
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(cfg)
		case "yaml", "table":
			encoder := yaml.NewEncoder(os.Stdout)
			defer encoder.Close()
			encoder.SetIndent(2)
			return encoder.Encode(cfg)
		default:
			return fmt.Errorf("unsupported output format: %s", GetOutputFormat())
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
