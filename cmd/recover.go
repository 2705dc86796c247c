package cmd

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/efm6988/ntfs-forensic-recovery/internal/config"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
	"github.com/efm6988/ntfs-forensic-recovery/pkg/app"
	"github.com/efm6988/ntfs-forensic-recovery/pkg/app/recovery"
)

var recoverCmd = &cobra.Command{
	Use:   "recover [source]",
	Short: "Recover files from an NTFS volume or raw image",
	Long: `Recover files from a block device, partition or raw image.

Stages run in order: filesystem entries, change journal, raw carving,
ZIP reconstruction over this run's carved files. A failure of one file
or stage is reported as a warning and never stops the run.

Examples:
  # Recover live files from a partition
  ntfs-recover recover /dev/sdb1 --dest ./recovered

  # Include deleted records, the journal and carve JPEG and PNG only
  ntfs-recover recover disk.img --dest ./out --deleted --journal --carve --signatures jpg,png

  # Carve and rebuild archives with BLAKE3 digests, JSON report
  ntfs-recover recover disk.img --dest ./out --carve --rebuild-zip --hash -o json`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecover(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)

	flags := recoverCmd.Flags()
	flags.StringP("dest", "d", "", "destination directory (required unless set in config)")

	// Stages
	flags.Bool("entries", true, "recover files from filesystem records")
	flags.Bool("deleted", false, "include deleted records")
	flags.Bool("journal", false, "extract the $UsnJrnl:$J change journal")
	flags.Bool("carve", false, "carve files from raw bytes by signature")
	flags.Bool("rebuild-zip", false, "rebuild ZIP archives from carved output")

	// Tuning
	flags.Int64("max-carve-size", types.MaxCarveSize, "maximum bytes extracted per carved file")
	flags.Int64("max-extract", types.MaxExtractSize, "maximum decompressed bytes written per rebuilt ZIP")
	flags.StringSlice("signatures", nil, "signature kinds to carve (zip,jpg,png,pdf; default all)")
	flags.Int("chunk-size", types.ReassemblyChunkSize, "read size for entry reassembly")
	flags.Bool("hash", false, "record BLAKE3 digests of written files")

	// Source handling
	flags.Int64("volume-offset", 0, "NTFS volume byte offset (with --no-detect, or when detection fails)")
	flags.Bool("no-detect", false, "do not search partition tables for the NTFS volume")
	flags.Bool("no-mmap", false, "read the source into memory instead of mapping it")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
}

func runRecover(cmd *cobra.Command, source string) error {
	ctx := app.NewContext()
	ctx.OutputFormat = GetOutputFormat()
	ctx.Verbose = GetVerbose()
	ctx.Quiet = GetQuiet()

	cfg, err := config.Load(GetConfigPath(), cmd.Flags())
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "failed to load configuration", err)
	}
	if err := ctx.ConfigureLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	if !ctx.Quiet {
		ctx.SetProgress(progressPrinter(ctx))
	}

	ctx, stop := ctx.WithSignals(os.Interrupt, syscall.SIGTERM)
	defer stop()

	response, err := recovery.Handle(ctx, &recovery.Request{SourcePath: source, Config: cfg})
	if err != nil {
		return err
	}

	ctx.Log(logrus.Fields{"run_id": response.Report.RunID}).Info(recovery.FormatSummary(response))
	return recovery.FormatOutput(ctx.Output, response, ctx.OutputFormat)
}

// progressPrinter logs metadata-pass progress every ten percent.
func progressPrinter(ctx *app.Context) func(app.ProgressUpdate) {
	lastDecile := -1
	return func(u app.ProgressUpdate) {
		decile := u.Percent() / 10
		if decile == lastDecile {
			return
		}
		lastDecile = decile
		ctx.Log(logrus.Fields{"eta": u.ETA().Round(time.Second).String()}).
			Info(fmt.Sprintf("%s: %d%%", u.Message, u.Percent()))
	}
}
