package recovery

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// FormatOutput writes the response to w in the given format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		return formatJSON(w, response)
	case "yaml":
		return formatYAML(w, response)
	case "table", "":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// formatTable prints a summary followed by per-stage tables
func formatTable(out io.Writer, response *Response) error {
	report := response.Report
	src := response.Source

	fmt.Fprintf(out, "Source:   %s (%s)\n", src.Path, formatBytes(src.SizeBytes))
	fmt.Fprintf(out, "Volume:   offset %d via %s", src.VolumeOffset, src.DetectionMethod)
	if !src.MetadataAvailable {
		fmt.Fprint(out, ", metadata unavailable")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Run:      %s\n", report.RunID)
	fmt.Fprintf(out, "Status:   %s\n\n", report.Status)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "STAGE\tCOUNT\n")
	fmt.Fprintf(w, "-----\t-----\n")
	fmt.Fprintf(w, "recovered\t%d\n", report.RecoveredCount)
	fmt.Fprintf(w, "skipped\t%d\n", report.SkippedCount)
	fmt.Fprintf(w, "carved\t%d\n", report.CarvedCount)
	fmt.Fprintf(w, "rebuilt archives\t%d\n", report.RebuiltCount)
	if report.JournalPath != "" {
		fmt.Fprintf(w, "journal bytes\t%d\n", report.JournalBytes)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if files := problemFiles(report.Recovered); len(files) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ENTRY\tPATH\tWRITTEN\tSIZE\tSTATUS\n")
		fmt.Fprintf(w, "-----\t----\t-------\t----\t------\n")
		for _, f := range files {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n",
				f.SourceEntry.Identifier, f.OutputPath, f.BytesWritten, f.SourceEntry.SizeBytes, f.Status)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(report.Rebuilt) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "CANDIDATE\tOFFSET\tSTATUS\tENTRIES\n")
		fmt.Fprintf(w, "---------\t------\t------\t-------\n")
		for _, r := range report.Rebuilt {
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\n",
				r.SourceCandidate.FileName(), r.SourceCandidate.SourceOffset, r.Status, r.ExtractedEntryCount)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(report.Warnings) > 0 {
		fmt.Fprintf(out, "\nWarnings (%d):\n", len(report.Warnings))
		for _, warning := range report.Warnings {
			fmt.Fprintf(out, "  %s\n", warning)
		}
	}

	fmt.Fprintf(out, "\nCompleted in %v\n", response.Elapsed.Round(time.Millisecond))
	return nil
}

// problemFiles keeps only truncated and failed recoveries
func problemFiles(files []types.RecoveredFile) []types.RecoveredFile {
	var out []types.RecoveredFile
	for _, f := range files {
		if f.Status != types.Complete {
			out = append(out, f)
		}
	}
	return out
}

func formatJSON(w io.Writer, response *Response) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

func formatYAML(w io.Writer, response *Response) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(response)
}

// FormatSummary provides a one-line summary for logs
func FormatSummary(response *Response) string {
	r := response.Report
	return fmt.Sprintf("%s: %d recovered, %d carved, %d archives rebuilt, %d warnings in %v",
		r.Status, r.RecoveredCount, r.CarvedCount, r.RebuiltCount, len(r.Warnings), response.Elapsed.Round(time.Millisecond))
}

// formatBytes formats byte count as human readable
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
