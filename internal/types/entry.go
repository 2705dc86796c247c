// Package types holds the data model shared by the recovery pipeline.
package types

import "fmt"

// AllocationState reports whether an entry is referenced by the live
// directory tree.
type AllocationState int

const (
	// Allocated entries are still part of the live filesystem.
	Allocated AllocationState = iota
	// Deleted entries have been released but their metadata survives.
	Deleted
)

// String returns the output subdirectory name for the state.
func (s AllocationState) String() string {
	switch s {
	case Allocated:
		return AllocatedDirName
	case Deleted:
		return DeletedDirName
	default:
		return fmt.Sprintf("state_%d", int(s))
	}
}

// MarshalText renders the state for JSON and YAML reports.
func (s AllocationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FilesystemEntry is one record produced by a metadata provider.
// It is read-only to the recovery pipeline.
type FilesystemEntry struct {
	Identifier      uint64          `json:"identifier" yaml:"identifier"`
	Name            string          `json:"name,omitempty" yaml:"name,omitempty"`
	SizeBytes       int64           `json:"size_bytes" yaml:"size_bytes"`
	AllocationState AllocationState `json:"allocation_state" yaml:"allocation_state"`

	// HasMetadata is false when the record exists but carries no usable
	// metadata (unused record, wiped header).
	HasMetadata bool `json:"has_metadata" yaml:"has_metadata"`
}

// HasName reports whether a name was recovered for the entry.
func (e FilesystemEntry) HasName() bool {
	return e.Name != ""
}

// IsDeleted reports whether the entry is no longer allocated.
func (e FilesystemEntry) IsDeleted() bool {
	return e.AllocationState == Deleted
}

// SyntheticName is the fallback file name used when no name survived.
func (e FilesystemEntry) SyntheticName() string {
	return fmt.Sprintf("inode_%d", e.Identifier)
}

// Recoverable reports whether the entry carries enough metadata to be
// reassembled at all.
func (e FilesystemEntry) Recoverable() bool {
	return e.HasMetadata && e.SizeBytes > 0
}
