// Package ntfs adapts the go-ntfs parser to the recovery pipeline's
// metadata provider contract. All on-disk interpretation happens inside
// go-ntfs; this package only maps its model onto types.FilesystemEntry.
package ntfs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	ntfsparser "www.velocidex.com/golang/go-ntfs/parser"

	"github.com/efm6988/ntfs-forensic-recovery/internal/interfaces"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

const (
	// attrTypeData is the $DATA attribute type.
	attrTypeData = 128

	pageSize  = 1024
	cacheSize = 10000
)

// Provider serves entries and streams of one NTFS volume.
type Provider struct {
	mu      sync.Mutex
	ctx     *ntfsparser.NTFSContext
	records uint64

	// Last opened $DATA stream; reassembly reads one entry sequentially.
	streamID uint64
	stream   ntfsparser.RangeReaderAt
}

var _ interfaces.MetadataProvider = (*Provider)(nil)

// Open parses the NTFS boot sector found at offset within reader.
func Open(reader io.ReaderAt, offset int64) (*Provider, error) {
	paged, err := ntfsparser.NewPagedReader(reader, pageSize, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create paged reader: %w", err)
	}

	ctx, err := ntfsparser.GetNTFSContext(paged, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to open NTFS volume at offset %d: %w", offset, err)
	}

	p := &Provider{ctx: ctx}
	mft, err := ntfsparser.GetDataForPath(ctx, "$MFT")
	if err != nil {
		return nil, fmt.Errorf("failed to open $MFT: %w", err)
	}
	recordSize := ctx.Boot.RecordSize()
	if recordSize <= 0 {
		return nil, fmt.Errorf("invalid MFT record size %d", recordSize)
	}
	p.records = uint64(rangeSize(mft) / recordSize)
	return p, nil
}

// IdentifierRange covers every record of $MFT.
func (p *Provider) IdentifierRange() (uint64, uint64) {
	return 0, p.records
}

// Entry loads MFT record id. Records that do not parse as file records are
// reported without metadata rather than as errors, matching how unused
// records look on a healthy volume.
func (p *Provider) Entry(id uint64) (types.FilesystemEntry, error) {
	entry := types.FilesystemEntry{Identifier: id}

	mft, err := p.ctx.GetMFT(int64(id))
	if err != nil {
		return entry, nil
	}

	info, err := ntfsparser.ModelMFTEntry(p.ctx, mft)
	if err != nil {
		return entry, fmt.Errorf("failed to model MFT entry %d: %w", id, err)
	}

	return entryFromInfo(id, info), nil
}

// entryFromInfo maps a modelled record onto the pipeline's entry. A record
// without the ALLOCATED flag is a deleted entry; directories carry no size.
func entryFromInfo(id uint64, info *ntfsparser.NTFSFileInformation) types.FilesystemEntry {
	entry := types.FilesystemEntry{
		Identifier:      id,
		Name:            preferredName(info),
		AllocationState: types.Allocated,
		HasMetadata:     true,
	}
	if !info.IsDir {
		entry.SizeBytes = info.Size
	}
	if !info.Allocated {
		entry.AllocationState = types.Deleted
	}
	return entry
}

// preferredName picks the first long file name, falling back to the DOS
// 8.3 name.
func preferredName(info *ntfsparser.NTFSFileInformation) string {
	var fallback string
	for _, fn := range info.Filenames {
		if fn == nil || fn.Name == "" {
			continue
		}
		if fn.Type != "DOS" {
			return fn.Name
		}
		if fallback == "" {
			fallback = fn.Name
		}
	}
	return fallback
}

// ReadEntryRange reads the unnamed $DATA stream of entry.
func (p *Provider) ReadEntryRange(entry types.FilesystemEntry, offset int64, maxLength int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reader, err := p.dataStream(entry.Identifier)
	if err != nil {
		return nil, err
	}
	return readAt(reader, offset, maxLength)
}

func (p *Provider) dataStream(id uint64) (ntfsparser.RangeReaderAt, error) {
	if p.stream != nil && p.streamID == id {
		return p.stream, nil
	}

	mft, err := p.ctx.GetMFT(int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load MFT entry %d: %w", id, err)
	}
	stream, err := ntfsparser.OpenStream(p.ctx, mft, attrTypeData,
		ntfsparser.WILDCARD_STREAM_ID, ntfsparser.WILDCARD_STREAM_NAME)
	if err != nil {
		return nil, fmt.Errorf("failed to open $DATA of entry %d: %w", id, err)
	}
	p.streamID, p.stream = id, stream
	return stream, nil
}

// OpenNamedStream resolves path (e.g. "/$Extend/$UsnJrnl:$J") on the volume.
func (p *Provider) OpenNamedStream(path string) (interfaces.NamedStream, error) {
	reader, err := ntfsparser.GetDataForPath(p.ctx, strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &namedStream{reader: reader, size: rangeSize(reader)}, nil
}

type namedStream struct {
	reader ntfsparser.RangeReaderAt
	size   int64
}

func (s *namedStream) Size() int64 {
	return s.size
}

func (s *namedStream) ReadRange(offset int64, maxLength int) ([]byte, error) {
	return readAt(s.reader, offset, maxLength)
}

func readAt(r io.ReaderAt, offset int64, maxLength int) ([]byte, error) {
	if maxLength <= 0 {
		return nil, nil
	}
	buf := make([]byte, maxLength)
	n, err := r.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

// rangeSize returns the end of the last run of r.
func rangeSize(r ntfsparser.RangeReaderAt) int64 {
	var end int64
	for _, rng := range r.Ranges() {
		if e := rng.Offset + rng.Length; e > end {
			end = e
		}
	}
	return end
}
