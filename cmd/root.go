package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	outputFormat string
	configPath   string
)

var rootCmd = &cobra.Command{
	Use:   "ntfs-recover",
	Short: "Forensic file recovery for NTFS volumes and raw images",
	Long: `ntfs-recover is a read-only recovery tool for NTFS volumes, partitions
and raw disk images.

It reassembles live and deleted files from their filesystem records,
extracts the $UsnJrnl change journal, carves files from raw bytes by
signature and rebuilds ZIP archives from carved output. The source is
never written to.

Commands:
  recover     Recover files from a source into a destination directory
  signatures  List the carving signature table
  config      Show the effective configuration`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ntfs-recover.yaml in ., ./config, $HOME/.ntfs-recover, /etc/ntfs-recover)")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}

// GetConfigPath returns the --config flag value
func GetConfigPath() string {
	return configPath
}
