// File: internal/interfaces/metadata_provider.go
package interfaces

import (
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// MetadataProvider exposes the filesystem metadata of one volume. It is the
// only component that interprets on-disk filesystem structures; the
// recovery pipeline consumes it through this narrow contract.
type MetadataProvider interface {
	// IdentifierRange returns the half-open range [first, last) of entry
	// identifiers valid on the volume.
	IdentifierRange() (first, last uint64)

	// Entry returns the entry with the given identifier. A returned error is
	// confined to that identifier.
	Entry(id uint64) (types.FilesystemEntry, error)

	// ReadEntryRange reads up to maxLength bytes of the entry's content at
	// offset. Fewer bytes are returned at end of stream and zero bytes
	// signal exhaustion. Arbitrary offsets must be supported, including for
	// deleted or partially overwritten entries.
	ReadEntryRange(entry types.FilesystemEntry, offset int64, maxLength int) ([]byte, error)

	// OpenNamedStream opens a metadata stream by path, e.g. the change
	// journal "/$Extend/$UsnJrnl:$J".
	OpenNamedStream(path string) (NamedStream, error)
}

// NamedStream follows the same range-read contract as ReadEntryRange.
type NamedStream interface {
	// Size returns the declared length of the stream.
	Size() int64

	// ReadRange reads up to maxLength bytes at offset.
	ReadRange(offset int64, maxLength int) ([]byte, error)
}

// RawImage gives the carver the whole source as one contiguous buffer.
type RawImage interface {
	Bytes() ([]byte, error)
}
