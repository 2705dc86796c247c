package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/efm6988/ntfs-forensic-recovery/internal/interfaces"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// JournalExtractor copies the change journal stream verbatim.
type JournalExtractor struct {
	provider   interfaces.MetadataProvider
	streamPath string
	chunkSize  int
}

// NewJournalExtractor creates an extractor for types.JournalStreamPath.
func NewJournalExtractor(provider interfaces.MetadataProvider, chunkSize int) *JournalExtractor {
	if chunkSize <= 0 {
		chunkSize = types.ReassemblyChunkSize
	}
	return &JournalExtractor{
		provider:   provider,
		streamPath: types.JournalStreamPath,
		chunkSize:  chunkSize,
	}
}

// Extract writes the full journal stream to outPath and returns the number
// of bytes written. An absent or unreadable stream returns a
// StreamUnavailable *types.UnitError and leaves no file behind.
func (j *JournalExtractor) Extract(outPath string) (int64, error) {
	stream, err := j.provider.OpenNamedStream(j.streamPath)
	if err != nil {
		return 0, types.NewUnitError(types.StreamUnavailable, j.streamPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, types.NewUnitError(types.StreamUnavailable, j.streamPath, err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return 0, types.NewUnitError(types.StreamUnavailable, j.streamPath, err)
	}

	written, err := copyRanges(f, stream.Size(), j.chunkSize, stream.ReadRange)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close journal file: %w", cerr)
	}
	if err != nil {
		os.Remove(outPath)
		return 0, types.NewUnitError(types.StreamUnavailable, j.streamPath, err)
	}
	return written, nil
}
