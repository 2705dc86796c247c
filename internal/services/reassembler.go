package services

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/efm6988/ntfs-forensic-recovery/internal/interfaces"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// Reassembler streams the content of filesystem entries to output files
// using bounded sequential range reads.
type Reassembler struct {
	provider  interfaces.MetadataProvider
	chunkSize int
	hash      bool
}

// NewReassembler creates a Reassembler reading chunkSize bytes per call.
// When hash is set every written file gets a BLAKE3 digest.
func NewReassembler(provider interfaces.MetadataProvider, chunkSize int, hash bool) *Reassembler {
	if chunkSize <= 0 {
		chunkSize = types.ReassemblyChunkSize
	}
	return &Reassembler{provider: provider, chunkSize: chunkSize, hash: hash}
}

// Reassemble copies the entry's content to outPath, creating parent
// directories on demand. A zero-byte read before the declared size ends the
// copy and marks the file Truncated. Read and write errors return a
// *types.UnitError of kind EntryReadFailure alongside a Failed record.
func (r *Reassembler) Reassemble(entry types.FilesystemEntry, outPath string) (types.RecoveredFile, error) {
	result := types.RecoveredFile{
		SourceEntry: entry,
		OutputPath:  outPath,
		Status:      types.Failed,
	}
	unit := entry.SyntheticName()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return result, types.NewUnitError(types.EntryReadFailure, unit, fmt.Errorf("failed to create output directory: %w", err))
	}

	f, err := os.Create(outPath)
	if err != nil {
		return result, types.NewUnitError(types.EntryReadFailure, unit, fmt.Errorf("failed to create output file: %w", err))
	}

	var w io.Writer = f
	var hasher *blake3.Hasher
	if r.hash {
		hasher = blake3.New()
		w = io.MultiWriter(f, hasher)
	}

	written, err := copyRanges(w, entry.SizeBytes, r.chunkSize, func(offset int64, n int) ([]byte, error) {
		return r.provider.ReadEntryRange(entry, offset, n)
	})
	result.BytesWritten = written
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output file: %w", cerr)
	}
	if err != nil {
		return result, types.NewUnitError(types.EntryReadFailure, unit, err)
	}

	result.Status = types.Complete
	if written < entry.SizeBytes {
		result.Status = types.Truncated
	}
	if hasher != nil {
		result.Digest = hex.EncodeToString(hasher.Sum(nil))
	}
	return result, nil
}

// rangeReadFunc reads up to n bytes at offset.
type rangeReadFunc func(offset int64, n int) ([]byte, error)

// copyRanges reads [0,size) in chunks and writes them to w. It stops early,
// without error, when a read returns zero bytes. The returned count is the
// number of bytes written.
func copyRanges(w io.Writer, size int64, chunkSize int, read rangeReadFunc) (int64, error) {
	var offset int64
	for offset < size {
		want := chunkSize
		if remaining := size - offset; remaining < int64(want) {
			want = int(remaining)
		}

		data, err := read(offset, want)
		if err != nil {
			return offset, fmt.Errorf("read at offset %d: %w", offset, err)
		}
		if len(data) == 0 {
			break
		}
		if len(data) > want {
			data = data[:want]
		}

		if _, err := w.Write(data); err != nil {
			return offset, fmt.Errorf("write at offset %d: %w", offset, err)
		}
		offset += int64(len(data))
	}
	return offset, nil
}

// EntryOutputPath returns <root>/<allocated|deleted>/<name or inode_<id>>.
func EntryOutputPath(root string, entry types.FilesystemEntry) string {
	return filepath.Join(root, entry.AllocationState.String(), EntryFileName(entry))
}

// EntryFileName returns the sanitised recovered name, or inode_<id> when no
// usable name survived.
func EntryFileName(entry types.FilesystemEntry) string {
	if !entry.HasName() {
		return entry.SyntheticName()
	}
	if name := sanitizeName(entry.Name); name != "" {
		return name
	}
	return entry.SyntheticName()
}

func sanitizeName(name string) string {
	name = strings.ToValidUTF8(name, "")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// claimPath returns path, or a variant with _<id> before the extension when
// path was already claimed during this run.
func claimPath(path string, id uint64, claimed map[string]bool) string {
	if !claimed[path] {
		claimed[path] = true
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidate := fmt.Sprintf("%s_%d%s", base, id, ext)
	for n := 1; claimed[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d_%d%s", base, id, n, ext)
	}
	claimed[candidate] = true
	return candidate
}
