package ntfs

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ntfsparser "www.velocidex.com/golang/go-ntfs/parser"

	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// testImage is a small formatted NTFS volume. MFT record 46 is
// "Folder A/Folder B/Hello world text document.txt" holding "Hello world!"
// with an alternate data stream goodbye.txt.
const testImage = "testdata/test.ntfs.dd.gz"

const (
	helloID   = 46
	helloName = "Hello world text document.txt"
	helloPath = "/Folder A/Folder B/" + helloName
)

func openTestImage(t *testing.T) *Provider {
	t.Helper()

	f, err := os.Open(testImage)
	if err != nil {
		t.Skipf("Test NTFS image not found: %v", testImage)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err, "failed to open compressed image")
	defer zr.Close()
	image, err := io.ReadAll(zr)
	require.NoError(t, err, "failed to decompress image")

	p, err := Open(bytes.NewReader(image), 0)
	require.NoError(t, err, "failed to open NTFS volume")
	return p
}

func TestOpen_NotNTFS(t *testing.T) {
	_, err := Open(bytes.NewReader(make([]byte, 64*1024)), 0)
	assert.Error(t, err)
}

func TestProvider_IdentifierRange(t *testing.T) {
	p := openTestImage(t)

	first, last := p.IdentifierRange()
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(256), last)
}

func TestProvider_Entry(t *testing.T) {
	p := openTestImage(t)

	tests := []struct {
		name string
		id   uint64
		want types.FilesystemEntry
	}{
		{
			name: "mft",
			id:   0,
			want: types.FilesystemEntry{Identifier: 0, Name: "$MFT", SizeBytes: 262144, AllocationState: types.Allocated, HasMetadata: true},
		},
		{
			name: "root directory has no size",
			id:   5,
			want: types.FilesystemEntry{Identifier: 5, Name: ".", AllocationState: types.Allocated, HasMetadata: true},
		},
		{
			name: "resident file",
			id:   helloID,
			want: types.FilesystemEntry{Identifier: helloID, Name: helloName, SizeBytes: 12, AllocationState: types.Allocated, HasMetadata: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Entry(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProvider_EntriesAcrossVolume(t *testing.T) {
	p := openTestImage(t)
	first, last := p.IdentifierRange()

	withMetadata := 0
	for id := first; id < last; id++ {
		entry, err := p.Entry(id)
		require.NoError(t, err, "entry %d", id)
		assert.Equal(t, id, entry.Identifier)
		if !entry.HasMetadata {
			assert.Zero(t, entry.SizeBytes, "entry %d", id)
			assert.False(t, entry.HasName(), "entry %d", id)
			continue
		}
		withMetadata++
	}
	assert.Equal(t, 39, withMetadata)
}

func TestProvider_ReadEntryRange(t *testing.T) {
	p := openTestImage(t)

	hello, err := p.Entry(helloID)
	require.NoError(t, err)
	mft, err := p.Entry(0)
	require.NoError(t, err)

	got, err := p.ReadEntryRange(hello, 0, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", string(got))

	got, err = p.ReadEntryRange(hello, 6, 100)
	require.NoError(t, err)
	assert.Equal(t, "world!", string(got))

	// switching entries reopens the stream
	var total int64
	for offset := int64(0); ; {
		chunk, err := p.ReadEntryRange(mft, offset, 64*1024)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		total += int64(len(chunk))
		offset += int64(len(chunk))
	}
	assert.Equal(t, mft.SizeBytes, total)

	got, err = p.ReadEntryRange(hello, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(got))
}

func TestProvider_OpenNamedStream(t *testing.T) {
	p := openTestImage(t)

	t.Run("alternate data stream", func(t *testing.T) {
		stream, err := p.OpenNamedStream(helloPath + ":goodbye.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(20), stream.Size())

		got, err := stream.ReadRange(0, 1024)
		require.NoError(t, err)
		assert.Equal(t, "Goodbye cruel world.", string(got))
	})

	t.Run("metadata stream", func(t *testing.T) {
		stream, err := p.OpenNamedStream("/$Extend/$RmMetadata/$TxfLog/$Tops:$T")
		require.NoError(t, err)
		assert.Greater(t, stream.Size(), int64(0))
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := p.OpenNamedStream("/Folder A/no such file.txt")
		assert.Error(t, err)
	})
}

func TestReadAt(t *testing.T) {
	r := bytes.NewReader([]byte("0123456789"))

	tests := []struct {
		name   string
		offset int64
		max    int
		want   string
	}{
		{"inside", 2, 3, "234"},
		{"crosses end", 8, 5, "89"},
		{"at end", 10, 4, ""},
		{"zero length", 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readAt(r, tt.offset, tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEntryFromInfo(t *testing.T) {
	tests := []struct {
		name string
		info *ntfsparser.NTFSFileInformation
		want types.FilesystemEntry
	}{
		{
			name: "allocated file",
			info: &ntfsparser.NTFSFileInformation{Allocated: true, Size: 42,
				Filenames: []*ntfsparser.FilenameInfo{{Type: "Win32", Name: "a.txt"}}},
			want: types.FilesystemEntry{Identifier: 7, Name: "a.txt", SizeBytes: 42, AllocationState: types.Allocated, HasMetadata: true},
		},
		{
			name: "unallocated record is deleted",
			info: &ntfsparser.NTFSFileInformation{Allocated: false, Size: 42,
				Filenames: []*ntfsparser.FilenameInfo{{Type: "POSIX", Name: "gone.doc"}}},
			want: types.FilesystemEntry{Identifier: 7, Name: "gone.doc", SizeBytes: 42, AllocationState: types.Deleted, HasMetadata: true},
		},
		{
			name: "directory",
			info: &ntfsparser.NTFSFileInformation{Allocated: true, IsDir: true, Size: 4096},
			want: types.FilesystemEntry{Identifier: 7, AllocationState: types.Allocated, HasMetadata: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entryFromInfo(7, tt.info))
		})
	}
}

func TestPreferredName(t *testing.T) {
	tests := []struct {
		name  string
		names []*ntfsparser.FilenameInfo
		want  string
	}{
		{"long name wins", []*ntfsparser.FilenameInfo{{Type: "DOS", Name: "REPORT~1.DOC"}, {Type: "Win32", Name: "report final.docx"}}, "report final.docx"},
		{"dos only", []*ntfsparser.FilenameInfo{{Type: "DOS", Name: "README.TXT"}}, "README.TXT"},
		{"none", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preferredName(&ntfsparser.NTFSFileInformation{Filenames: tt.names}))
		})
	}
}
