package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"

	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

var errExtractLimit = errors.New("decompressed size exceeds limit")

// ArchiveValidator opens carved container candidates and extracts the ones
// that parse.
type ArchiveValidator struct {
	maxExtractSize int64
}

// NewArchiveValidator creates an ArchiveValidator writing at most
// maxExtractSize decompressed bytes per archive. A non-positive value
// selects types.MaxExtractSize.
func NewArchiveValidator(maxExtractSize int64) *ArchiveValidator {
	if maxExtractSize <= 0 {
		maxExtractSize = types.MaxExtractSize
	}
	return &ArchiveValidator{maxExtractSize: maxExtractSize}
}

// Validate opens the carved file of candidate as a ZIP container and, if it
// is well formed, extracts it into outRoot/<carved file name>/. Any failure
// yields a NotAnArchive result and a MalformedCandidate *types.UnitError,
// and whatever was extracted before the failure is removed. Panics from
// malformed input are contained here as well.
func (v *ArchiveValidator) Validate(candidate types.CarveCandidate, outRoot string) (result types.RebuildResult, err error) {
	result = types.RebuildResult{SourceCandidate: candidate, Status: types.NotAnArchive}
	unit := filepath.Base(candidate.OutputPath)

	defer func() {
		if r := recover(); r != nil {
			result.Status = types.NotAnArchive
			err = types.NewUnitError(types.MalformedCandidate, unit, fmt.Errorf("panic while reading container: %v", r))
		}
	}()

	if !candidate.SignatureKind.IsContainer() {
		return result, types.NewUnitError(types.MalformedCandidate, unit,
			fmt.Errorf("signature kind %s is not a container format", candidate.SignatureKind))
	}

	f, err := os.Open(candidate.OutputPath)
	if err != nil {
		return result, types.NewUnitError(types.MalformedCandidate, unit, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return result, types.NewUnitError(types.MalformedCandidate, unit, err)
	}

	// A reader returned alongside an error only flags non-local entry
	// names; extractZip skips those.
	zr, err := zip.NewReader(f, st.Size())
	if zr == nil {
		return result, types.NewUnitError(types.MalformedCandidate, unit, err)
	}

	dir := filepath.Join(outRoot, unit)
	count, err := extractZip(zr, dir, v.maxExtractSize)
	if err != nil {
		if rerr := os.RemoveAll(dir); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return result, types.NewUnitError(types.MalformedCandidate, unit, err)
	}

	result.Status = types.Rebuilt
	result.ExtractedEntryCount = count
	result.OutputDir = dir
	return result, nil
}

// ValidateAll validates every container candidate independently. Candidates
// of other kinds are ignored. NotAnArchive outcomes are expected and are
// only logged at debug level.
func (v *ArchiveValidator) ValidateAll(ctx context.Context, candidates []types.CarveCandidate, outRoot string, run *RecoveryRun) ([]types.RebuildResult, error) {
	var results []types.RebuildResult
	for _, cand := range candidates {
		if !cand.SignatureKind.IsContainer() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := v.Validate(cand, outRoot)
		results = append(results, result)
		if err != nil {
			run.Logf(types.StageArchives, logrus.DebugLevel, "not an archive: %v", err)
			continue
		}

		run.RebuiltCount++
		run.Logf(types.StageArchives, logrus.InfoLevel, "Rebuilt ZIP: %s (%d entries)",
			filepath.Base(cand.OutputPath), result.ExtractedEntryCount)
	}
	return results, nil
}

// extractZip writes the regular files of zr under dir and returns how many
// were extracted. Entries whose names would escape dir are skipped. At most
// limit decompressed bytes are written in total.
func extractZip(zr *zip.Reader, dir string, limit int64) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	count := 0
	for _, zf := range zr.File {
		name := strings.ReplaceAll(zf.Name, `\`, "/")
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(name))

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			continue
		}

		n, err := extractZipFile(zf, target, limit)
		if err != nil {
			return count, fmt.Errorf("extract %s: %w", zf.Name, err)
		}
		limit -= n
		count++
	}
	return count, nil
}

// extractZipFile copies one member to target and returns the bytes written.
// It fails with errExtractLimit once more than limit bytes decompress.
func extractZipFile(zf *zip.File, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	rc, err := zf.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	var r io.Reader = rc
	if limit < math.MaxInt64 {
		r = io.LimitReader(rc, limit+1)
	}
	n, err := io.Copy(out, r)
	if err == nil && n > limit {
		err = errExtractLimit
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
