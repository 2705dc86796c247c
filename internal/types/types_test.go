package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemEntry(t *testing.T) {
	tests := []struct {
		name        string
		entry       FilesystemEntry
		recoverable bool
	}{
		{"live file", FilesystemEntry{Identifier: 1, Name: "a", SizeBytes: 10, HasMetadata: true}, true},
		{"deleted file", FilesystemEntry{Identifier: 2, SizeBytes: 10, HasMetadata: true, AllocationState: Deleted}, true},
		{"empty file", FilesystemEntry{Identifier: 3, HasMetadata: true}, false},
		{"negative size", FilesystemEntry{Identifier: 4, SizeBytes: -1, HasMetadata: true}, false},
		{"no metadata", FilesystemEntry{Identifier: 5, SizeBytes: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.recoverable, tt.entry.Recoverable())
			assert.Equal(t, fmt.Sprintf("inode_%d", tt.entry.Identifier), tt.entry.SyntheticName())
		})
	}

	assert.Equal(t, "allocated", Allocated.String())
	assert.Equal(t, "deleted", Deleted.String())
}

func TestCarveCandidate_FileName(t *testing.T) {
	tests := []struct {
		kind SignatureKind
		seq  int
		want string
	}{
		{KindZIP, 0, "carved_0.zip"},
		{KindJPEG, 7, "carved_7.jpg"},
		{KindPNG, 12, "carved_12.png"},
		{KindPDF, 3, "carved_3.pdf"},
	}

	for _, tt := range tests {
		c := CarveCandidate{SequenceIndex: tt.seq, SignatureKind: tt.kind, SourceOffset: 10, ExtractedLength: 5}
		assert.Equal(t, tt.want, c.FileName())
		assert.Equal(t, int64(15), c.End())
	}
}

func TestDefaultSignatures(t *testing.T) {
	require.Len(t, DefaultSignatures, 4)
	assert.Equal(t, "50 4B 03 04", FormatMagic(DefaultSignatures[0].Magic))
	assert.Equal(t, "FF D8 FF", FormatMagic(DefaultSignatures[1].Magic))
	assert.Equal(t, "89 50 4E 47", FormatMagic(DefaultSignatures[2].Magic))
	assert.Equal(t, "25 50 44 46", FormatMagic(DefaultSignatures[3].Magic))

	for _, sig := range DefaultSignatures {
		assert.Equal(t, sig.Kind.Extension(), sig.Extension)
		assert.Equal(t, sig.Kind == KindZIP, sig.Container)
		assert.Equal(t, sig.Container, sig.Kind.IsContainer())
	}
}

func TestParseSignatureKind(t *testing.T) {
	for in, want := range map[string]SignatureKind{
		"zip": KindZIP, ".ZIP": KindZIP, "jpeg": KindJPEG, " jpg ": KindJPEG, "png": KindPNG, "pdf": KindPDF,
	} {
		got, err := ParseSignatureKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSignatureKind("gif")
	assert.Error(t, err)
}

func TestSelectSignatures(t *testing.T) {
	all, err := SelectSignatures(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSignatures, all)

	picked, err := SelectSignatures([]string{"pdf", "zip", "pdf"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, KindZIP, picked[0].Kind)
	assert.Equal(t, KindPDF, picked[1].Kind)
}

func TestUnitError(t *testing.T) {
	cause := errors.New("no such stream")
	err := fmt.Errorf("journal: %w", NewUnitError(StreamUnavailable, JournalStreamPath, cause))

	assert.True(t, errors.Is(err, ErrStreamUnavailable))
	assert.False(t, errors.Is(err, ErrEntryRead))
	assert.True(t, errors.Is(err, cause))

	var unitErr *UnitError
	require.True(t, errors.As(err, &unitErr))
	w := unitErr.Warning(StageJournal)
	assert.Equal(t, StageWarning{Stage: StageJournal, Kind: StreamUnavailable, Unit: JournalStreamPath, Message: "no such stream"}, w)
	assert.Equal(t, "[journal] StreamUnavailable /$Extend/$UsnJrnl:$J: no such stream", w.String())
}

func TestStatusJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		Run     RunStatus           `json:"run"`
		File    RecoveredFileStatus `json:"file"`
		Rebuild RebuildStatus       `json:"rebuild"`
		Kind    SignatureKind       `json:"kind"`
		State   AllocationState     `json:"state"`
	}{PartialFailure, Truncated, NotAnArchive, KindPNG, Deleted})
	require.NoError(t, err)
	assert.JSONEq(t, `{"run":"partial_failure","file":"truncated","rebuild":"not_an_archive","kind":"png","state":"deleted"}`, string(out))
}
