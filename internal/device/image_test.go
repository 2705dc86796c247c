package device

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putBootSector(img []byte, off int) {
	copy(img[off+ntfsOEMOffset:], ntfsOEMID)
	img[off+510] = 0x55
	img[off+511] = 0xAA
}

func rawVolume() []byte {
	img := make([]byte, 64*sectorSize)
	putBootSector(img, 0)
	return img
}

func mbrDisk(startLBA uint32) []byte {
	img := make([]byte, int(startLBA+16)*sectorSize)
	copy(img[mbrSignatureOffset:], mbrSignature)
	// first slot holds something else, second is NTFS
	img[mbrPartitionOffset+4] = 0x83
	entry := img[mbrPartitionOffset+mbrPartitionSize:]
	entry[4] = mbrTypeNTFS
	binary.LittleEndian.PutUint32(entry[8:12], startLBA)
	putBootSector(img, int(startLBA)*sectorSize)
	return img
}

func gptDisk(startLBA uint64) []byte {
	img := make([]byte, int(startLBA+16)*sectorSize)
	// protective MBR
	copy(img[mbrSignatureOffset:], mbrSignature)
	img[mbrPartitionOffset+4] = 0xEE
	copy(img[gptHeaderOffset:], gptSignature)
	entry := img[gptEntriesStartOffset+gptEntrySize:]
	copy(entry[0:16], basicDataPartitionGUID)
	binary.LittleEndian.PutUint64(entry[32:40], startLBA)
	putBootSector(img, int(startLBA)*sectorSize)
	return img
}

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestOpen_DetectsVolume(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantOffset int64
		wantMethod string
	}{
		{"unpartitioned volume", rawVolume(), 0, "raw"},
		{"mbr partition", mbrDisk(2048), 2048 * sectorSize, "mbr"},
		{"gpt basic data partition", gptDisk(40), 40 * sectorSize, "gpt"},
		{"no ntfs", make([]byte, 8*sectorSize), 4096, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DefaultOffset = 4096
			img, err := Open(writeImage(t, tt.data), cfg, quietLogger())
			require.NoError(t, err)
			defer img.Close()

			offset, method := img.VolumeOffset()
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantMethod, method)
			assert.Equal(t, int64(len(tt.data)), img.Size())
		})
	}
}

func TestOpen_ConfiguredOffset(t *testing.T) {
	cfg := &Config{AutoDetectVolume: false, DefaultOffset: 1024}
	img, err := Open(writeImage(t, rawVolume()), cfg, quietLogger())
	require.NoError(t, err)
	defer img.Close()

	offset, method := img.VolumeOffset()
	assert.Equal(t, int64(1024), offset)
	assert.Equal(t, "configured", method)
}

func TestOpen_MissingSource(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.img"), nil, quietLogger())
	assert.Error(t, err)
}

func TestImage_Bytes(t *testing.T) {
	data := mbrDisk(8)
	data[len(data)-1] = 0x7F

	for _, useMmap := range []bool{true, false} {
		cfg := DefaultConfig()
		cfg.UseMmap = useMmap
		img, err := Open(writeImage(t, data), cfg, quietLogger())
		require.NoError(t, err)

		buf, err := img.Bytes()
		require.NoError(t, err)
		assert.Equal(t, data, []byte(buf))

		again, err := img.Bytes()
		require.NoError(t, err)
		assert.Equal(t, len(buf), len(again))

		if !useMmap {
			assert.False(t, img.Stats().Mapped)
			assert.Equal(t, int64(len(data)), img.Stats().BytesRead)
		}
		require.NoError(t, img.Close())
	}
}

func TestImage_EmptySource(t *testing.T) {
	img, err := Open(writeImage(t, nil), nil, quietLogger())
	require.NoError(t, err)
	defer img.Close()

	buf, err := img.Bytes()
	require.NoError(t, err)
	assert.Empty(t, buf)
}

func TestImage_ReadAt(t *testing.T) {
	data := rawVolume()
	path := writeImage(t, data)
	img, err := Open(path, nil, quietLogger())
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, path, img.Path())

	p := make([]byte, len(ntfsOEMID))
	n, err := img.ReadAt(p, ntfsOEMOffset)
	require.NoError(t, err)
	assert.Equal(t, len(ntfsOEMID), n)
	assert.Equal(t, ntfsOEMID, p)
	assert.GreaterOrEqual(t, img.Stats().Reads, int64(1))
}
