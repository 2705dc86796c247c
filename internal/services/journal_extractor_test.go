package services

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efm6988/ntfs-forensic-recovery/internal/interfaces"
	"github.com/efm6988/ntfs-forensic-recovery/internal/providers/memory"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

func TestJournalExtractor_Extract(t *testing.T) {
	journal := bytes.Repeat([]byte{0x00, 0x00, 0x01, 0x02, 0xAA}, 1000)
	vol := memory.NewVolume(0)
	vol.AddStream(types.JournalStreamPath, journal)

	out := filepath.Join(t.TempDir(), types.JournalFileName)
	n, err := NewJournalExtractor(vol, 777).Extract(out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(journal)), n)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, journal, got, "stream is copied verbatim, zero runs included")
}

func TestJournalExtractor_Absent(t *testing.T) {
	out := filepath.Join(t.TempDir(), types.JournalFileName)
	_, err := NewJournalExtractor(memory.NewVolume(0), 0).Extract(out)

	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStreamUnavailable))
	assert.True(t, errors.Is(err, memory.ErrNoSuchStream))
	assert.NoFileExists(t, out)
}

func TestJournalExtractor_ReadFailureLeavesNoFile(t *testing.T) {
	provider := &failingStreamProvider{Volume: memory.NewVolume(0), failAt: 8}
	out := filepath.Join(t.TempDir(), types.JournalFileName)

	_, err := NewJournalExtractor(provider, 4).Extract(out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStreamUnavailable))
	assert.NoFileExists(t, out)
}

type failingStreamProvider struct {
	*memory.Volume
	failAt int64
}

func (p *failingStreamProvider) OpenNamedStream(string) (interfaces.NamedStream, error) {
	return failingStream{failAt: p.failAt}, nil
}

type failingStream struct{ failAt int64 }

func (s failingStream) Size() int64 { return 64 }

func (s failingStream) ReadRange(offset int64, maxLength int) ([]byte, error) {
	if offset >= s.failAt {
		return nil, errors.New("stream run unreadable")
	}
	return make([]byte, maxLength), nil
}
