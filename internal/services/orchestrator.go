package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/efm6988/ntfs-forensic-recovery/internal/interfaces"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// recoverMilestone is the number of recovered files between milestone events.
const recoverMilestone = 100

// OrchestratorConfig tunes the pipeline stages.
type OrchestratorConfig struct {
	ChunkSize      int
	MaxCarveSize   int64
	MaxExtractSize int64
	Signatures     []types.Signature
	Hash           bool
}

// RunRequest describes one recovery run.
type RunRequest struct {
	// Provider is nil when the filesystem metadata could not be opened.
	Provider    interfaces.MetadataProvider
	Image       interfaces.RawImage
	Destination string
	Options     types.RecoveryOptions
}

// Orchestrator sequences the recovery stages over one source.
type Orchestrator struct {
	config    OrchestratorConfig
	carver    *Carver
	validator *ArchiveValidator
}

// NewOrchestrator creates an Orchestrator, filling unset config fields with
// defaults.
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	if config.ChunkSize <= 0 {
		config.ChunkSize = types.ReassemblyChunkSize
	}
	if config.MaxCarveSize <= 0 {
		config.MaxCarveSize = types.MaxCarveSize
	}
	if config.Signatures == nil {
		config.Signatures = types.DefaultSignatures
	}
	return &Orchestrator{
		config:    config,
		carver:    NewCarver(config.Signatures, config.MaxCarveSize, config.Hash),
		validator: NewArchiveValidator(config.MaxExtractSize),
	}
}

// Run executes the pipeline: entry recovery, journal extraction, raw
// carving, then archive validation over this run's carve output. Failures
// of single units are recorded as warnings and never stop the run. Only an
// unusable destination or context cancellation return an error; a partial
// report is returned in both cases.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, sink EventSink) (*Report, error) {
	run := NewRecoveryRun(sink)
	report := &Report{Options: req.Options}
	defer run.Complete()

	if err := os.MkdirAll(req.Destination, 0o755); err != nil {
		run.Logf(types.StageRun, logrus.ErrorLevel, "destination not writable: %v", err)
		run.finish(report)
		return report, fmt.Errorf("failed to create destination %s: %w", req.Destination, err)
	}
	run.Logf(types.StageRun, logrus.InfoLevel, "recovery %s started into %s", run.ID, req.Destination)

	err := o.runStages(ctx, req, run, report)
	if err != nil && errors.Is(err, ctx.Err()) {
		run.Warn(types.StageRun, types.NewUnitError(types.RunCancelled, run.ID, err))
	}

	run.Logf(types.StageRun, logrus.InfoLevel, "RECOVERY COMPLETE: %d recovered, %d carved, %d archives rebuilt, %d warnings",
		run.RecoveredCount, run.CarvedCount, run.RebuiltCount, len(run.warnings))
	run.finish(report)
	return report, err
}

func (o *Orchestrator) runStages(ctx context.Context, req RunRequest, run *RecoveryRun, report *Report) error {
	opts := req.Options

	if opts.RecoverEntries {
		if req.Provider == nil {
			run.Warn(types.StageMetadata, types.NewUnitError(types.MetadataUnavailable, "filesystem",
				errors.New("no filesystem metadata; entry recovery skipped")))
		} else if err := o.recoverEntries(ctx, req, run, report); err != nil {
			return err
		}
	}

	if opts.ExtractJournal {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.extractJournal(req, run, report)
	}

	var carved []types.CarveCandidate
	if opts.EnableCarving {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		carved, err = o.carve(ctx, req, run)
		report.Carved = carved
		if err != nil {
			return err
		}
	}

	if opts.RebuildArchives {
		if len(carved) == 0 {
			run.Logf(types.StageArchives, logrus.InfoLevel, "no carved output in this run, skipping ZIP reconstruction")
			return nil
		}
		run.Logf(types.StageArchives, logrus.InfoLevel, "Attempting ZIP reconstruction...")
		results, err := o.validator.ValidateAll(ctx, carved, filepath.Join(req.Destination, types.RebuiltZipDirName), run)
		report.Rebuilt = results
		if err != nil {
			return err
		}
		run.Milestone(types.StageArchives, run.RebuiltCount, "%d archives rebuilt", run.RebuiltCount)
	}
	return nil
}

func (o *Orchestrator) recoverEntries(ctx context.Context, req RunRequest, run *RecoveryRun, report *Report) error {
	first, last := req.Provider.IdentifierRange()
	run.Logf(types.StageMetadata, logrus.InfoLevel, "Scanning all MFT records (%d-%d)...", first, last)
	if last <= first {
		run.SetProgress(1)
		return nil
	}

	reassembler := NewReassembler(req.Provider, o.config.ChunkSize, o.config.Hash)
	claimed := make(map[string]bool)
	total := float64(last - first)

	for id := first; id < last; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.recoverEntry(id, req, reassembler, claimed, run, report)
		run.SetProgress(float64(id-first+1) / total)
	}

	run.Logf(types.StageMetadata, logrus.InfoLevel, "%d files recovered, %d records skipped",
		run.RecoveredCount, run.SkippedCount)
	return nil
}

func (o *Orchestrator) recoverEntry(id uint64, req RunRequest, reassembler *Reassembler, claimed map[string]bool, run *RecoveryRun, report *Report) {
	entry, err := req.Provider.Entry(id)
	if err != nil {
		run.Warn(types.StageMetadata, types.NewUnitError(types.EntryReadFailure, fmt.Sprintf("inode_%d", id), err))
		return
	}
	if !entry.Recoverable() || (entry.IsDeleted() && !req.Options.RecoverDeleted) {
		run.SkippedCount++
		return
	}

	path := claimPath(EntryOutputPath(req.Destination, entry), entry.Identifier, claimed)
	file, err := reassembler.Reassemble(entry, path)
	report.Recovered = append(report.Recovered, file)
	if err != nil {
		run.Warn(types.StageMetadata, err)
		return
	}
	if file.Status == types.Truncated {
		run.Logf(types.StageMetadata, logrus.DebugLevel, "%s truncated at %d of %d bytes",
			filepath.Base(path), file.BytesWritten, entry.SizeBytes)
	}

	run.RecoveredCount++
	if run.RecoveredCount%recoverMilestone == 0 {
		run.Milestone(types.StageMetadata, run.RecoveredCount, "%d files recovered", run.RecoveredCount)
	}
}

func (o *Orchestrator) extractJournal(req RunRequest, run *RecoveryRun, report *Report) {
	run.Logf(types.StageJournal, logrus.InfoLevel, "Extracting NTFS $UsnJrnl (best-effort)")
	if req.Provider == nil {
		run.Warn(types.StageJournal, types.NewUnitError(types.StreamUnavailable, types.JournalStreamPath,
			errors.New("no filesystem metadata")))
		return
	}

	out := filepath.Join(req.Destination, types.JournalFileName)
	n, err := NewJournalExtractor(req.Provider, o.config.ChunkSize).Extract(out)
	if err != nil {
		run.Warn(types.StageJournal, err)
		return
	}
	report.JournalPath = out
	report.JournalBytes = n
	run.Milestone(types.StageJournal, 1, "USN Journal extracted (%d bytes)", n)
}

func (o *Orchestrator) carve(ctx context.Context, req RunRequest, run *RecoveryRun) ([]types.CarveCandidate, error) {
	run.Logf(types.StageCarving, logrus.InfoLevel, "Starting RAW carving...")
	if req.Image == nil {
		run.Warn(types.StageCarving, types.NewUnitError(types.SourceUnreadable, "image", errors.New("no raw image available")))
		return nil, nil
	}

	buf, err := req.Image.Bytes()
	if err != nil {
		run.Warn(types.StageCarving, types.NewUnitError(types.SourceUnreadable, "image", err))
		return nil, nil
	}

	carved, err := o.carver.Carve(ctx, buf, filepath.Join(req.Destination, types.CarvedDirName), run)
	if err != nil && ctx.Err() == nil {
		run.Warn(types.StageCarving, err)
		err = nil
	}
	run.Milestone(types.StageCarving, run.CarvedCount, "RAW carved %d files", run.CarvedCount)
	return carved, err
}
