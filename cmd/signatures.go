package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "List the carving signature table",
	Long: `List the file signatures used by raw carving, in scan order.

Container kinds are the ones ZIP reconstruction attempts to open.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printSignatures(GetOutputFormat())
	},
}

func init() {
	rootCmd.AddCommand(signaturesCmd)
}

type signatureRow struct {
	Kind      string `json:"kind" yaml:"kind"`
	Magic     string `json:"magic" yaml:"magic"`
	Extension string `json:"extension" yaml:"extension"`
	Container bool   `json:"container" yaml:"container"`
}

func printSignatures(format string) error {
	rows := make([]signatureRow, 0, len(types.DefaultSignatures))
	for _, sig := range types.DefaultSignatures {
		rows = append(rows, signatureRow{
			Kind:      sig.Kind.String(),
			Magic:     types.FormatMagic(sig.Magic),
			Extension: sig.Extension,
			Container: sig.Container,
		})
	}

	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(rows)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintf(w, "KIND\tMAGIC\tEXTENSION\tCONTAINER\n")
		fmt.Fprintf(w, "----\t-----\t---------\t---------\n")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.Kind, r.Magic, r.Extension, r.Container)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
