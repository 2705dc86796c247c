// Package memory provides an in-memory metadata provider describing a
// synthetic volume. It backs tests and dry runs of the recovery pipeline.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/efm6988/ntfs-forensic-recovery/internal/interfaces"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// ErrNoSuchStream is returned by OpenNamedStream for unknown paths.
var ErrNoSuchStream = errors.New("named stream not found")

// Entry is one synthetic record.
type Entry struct {
	types.FilesystemEntry

	// Data holds the readable content. When shorter than SizeBytes reads
	// past its end return zero bytes, like a sparse or overwritten run.
	Data []byte

	// MetadataErr makes Entry fail for this identifier.
	MetadataErr error

	// ReadErr makes ReadEntryRange fail once ReadErrAt is reached.
	ReadErr   error
	ReadErrAt int64
}

// Volume is a synthetic volume. The zero value is not usable; call NewVolume.
type Volume struct {
	mu      sync.RWMutex
	first   uint64
	last    uint64
	entries map[uint64]*Entry
	streams map[string][]byte
	raw     []byte
}

var (
	_ interfaces.MetadataProvider = (*Volume)(nil)
	_ interfaces.RawImage         = (*Volume)(nil)
)

// NewVolume creates an empty volume whose identifiers start at first.
func NewVolume(first uint64) *Volume {
	return &Volume{
		first:   first,
		last:    first,
		entries: make(map[uint64]*Entry),
		streams: make(map[string][]byte),
	}
}

// Add registers e. The identifier range grows to include it.
func (v *Volume) Add(e Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := e.Identifier
	if id < v.first {
		v.first = id
	}
	if id >= v.last {
		v.last = id + 1
	}
	stored := e
	v.entries[id] = &stored
}

// AddFile registers a fully readable entry holding data.
func (v *Volume) AddFile(id uint64, name string, state types.AllocationState, data []byte) {
	v.Add(Entry{
		FilesystemEntry: types.FilesystemEntry{
			Identifier:      id,
			Name:            name,
			SizeBytes:       int64(len(data)),
			AllocationState: state,
			HasMetadata:     true,
		},
		Data: data,
	})
}

// AddStream registers a named metadata stream.
func (v *Volume) AddStream(path string, data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.streams[path] = data
}

// SetRaw sets the bytes returned by Bytes.
func (v *Volume) SetRaw(raw []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.raw = raw
}

// IdentifierRange returns [first, last).
func (v *Volume) IdentifierRange() (uint64, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.first, v.last
}

// Entry returns the record for id. Identifiers inside the range that were
// never added are reported as records without metadata.
func (v *Volume) Entry(id uint64) (types.FilesystemEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[id]
	if !ok {
		return types.FilesystemEntry{Identifier: id}, nil
	}
	if e.MetadataErr != nil {
		return types.FilesystemEntry{}, e.MetadataErr
	}
	return e.FilesystemEntry, nil
}

// ReadEntryRange reads from the entry's Data.
func (v *Volume) ReadEntryRange(entry types.FilesystemEntry, offset int64, maxLength int) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[entry.Identifier]
	if !ok {
		return nil, fmt.Errorf("entry %d not found", entry.Identifier)
	}
	if e.ReadErr != nil && offset >= e.ReadErrAt {
		return nil, e.ReadErr
	}
	return readRange(e.Data, offset, maxLength), nil
}

// OpenNamedStream returns the stream registered at path.
func (v *Volume) OpenNamedStream(path string) (interfaces.NamedStream, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	data, ok := v.streams[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNoSuchStream)
	}
	return stream(data), nil
}

// Bytes returns the raw image set with SetRaw.
func (v *Volume) Bytes() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.raw == nil {
		return nil, errors.New("no raw image")
	}
	return v.raw, nil
}

// Identifiers returns the registered identifiers in ascending order.
func (v *Volume) Identifiers() []uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]uint64, 0, len(v.entries))
	for id := range v.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type stream []byte

func (s stream) Size() int64 {
	return int64(len(s))
}

func (s stream) ReadRange(offset int64, maxLength int) ([]byte, error) {
	return readRange(s, offset, maxLength), nil
}

func readRange(data []byte, offset int64, maxLength int) []byte {
	if offset < 0 || offset >= int64(len(data)) || maxLength <= 0 {
		return nil
	}
	end := offset + int64(maxLength)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out
}
