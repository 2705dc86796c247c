package recovery

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efm6988/ntfs-forensic-recovery/internal/config"
	"github.com/efm6988/ntfs-forensic-recovery/internal/interfaces"
	"github.com/efm6988/ntfs-forensic-recovery/internal/providers/memory"
	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
	"github.com/efm6988/ntfs-forensic-recovery/pkg/app"
)

func storedZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeSource(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.img")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("testdata", "recover.yaml"), nil)
	require.NoError(t, err)
	cfg.Destination = filepath.Join(t.TempDir(), "out")
	return cfg
}

func testContext() (*app.Context, *test.Hook) {
	ctx := app.NewContext()
	logger, hook := test.NewNullLogger()
	ctx.Logger = logger
	return ctx, hook
}

func withProvider(t *testing.T, fn func(io.ReaderAt, int64) (interfaces.MetadataProvider, error)) {
	t.Helper()
	saved := openProvider
	openProvider = fn
	t.Cleanup(func() { openProvider = saved })
}

func TestHandle_EndToEnd(t *testing.T) {
	vol := memory.NewVolume(0)
	vol.AddFile(0, "report.txt", types.Allocated, []byte("quarterly numbers"))
	vol.AddFile(1, "gone.txt", types.Deleted, []byte("deleted content"))
	vol.AddStream(types.JournalStreamPath, []byte("usn records"))
	withProvider(t, func(io.ReaderAt, int64) (interfaces.MetadataProvider, error) { return vol, nil })

	image := append(make([]byte, 100), storedZip(t, map[string]string{"a.txt": "alpha"})...)
	cfg := testConfig(t)
	cfg.Recover.RecoverDeleted = true
	cfg.Recover.EnableCarving = true
	cfg.Recover.ExtractJournal = true
	cfg.Recover.RebuildArchives = true

	ctx, hook := testContext()
	var last app.ProgressUpdate
	ctx.SetProgress(func(u app.ProgressUpdate) { last = u })

	source := writeSource(t, image)
	resp, err := Handle(ctx, &Request{SourcePath: source, Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, resp.Report)
	assert.Equal(t, source, resp.Source.Path)

	report := resp.Report
	assert.Equal(t, types.Success, report.Status)
	assert.Equal(t, 2, report.RecoveredCount)
	assert.Equal(t, 1, report.CarvedCount)
	assert.Equal(t, 1, report.RebuiltCount)
	assert.Equal(t, int64(len("usn records")), report.JournalBytes)
	assert.True(t, resp.Source.MetadataAvailable)
	assert.Equal(t, 100, last.Percent())

	got, err := os.ReadFile(filepath.Join(cfg.Destination, "deleted", "gone.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deleted content", string(got))

	got, err = os.ReadFile(filepath.Join(cfg.Destination, "rebuilt_zip", "carved_0.zip", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	assert.NotEmpty(t, hook.AllEntries(), "worker events are relayed to the logger")
}

func TestHandle_MetadataUnavailable(t *testing.T) {
	withProvider(t, func(io.ReaderAt, int64) (interfaces.MetadataProvider, error) {
		return nil, errors.New("not an NTFS volume")
	})

	image := append([]byte{0xFF, 0xD8, 0xFF}, make([]byte, 61)...)
	cfg := testConfig(t)
	cfg.Recover.EnableCarving = true

	ctx, _ := testContext()
	resp, err := Handle(ctx, &Request{SourcePath: writeSource(t, image), Config: cfg})
	require.NoError(t, err)

	assert.False(t, resp.Source.MetadataAvailable)
	assert.Equal(t, types.PartialFailure, resp.Report.Status)
	assert.Equal(t, 1, resp.Report.CarvedCount)
	require.Len(t, resp.Report.Warnings, 1)
	assert.Equal(t, types.MetadataUnavailable, resp.Report.Warnings[0].Kind)

	info, err := os.Stat(filepath.Join(cfg.Destination, "carved", "carved_0.jpg"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(image)), info.Size())
}

func TestHandle_SourceUnreadable(t *testing.T) {
	cfg := testConfig(t)
	ctx, _ := testContext()

	_, err := Handle(ctx, &Request{SourcePath: filepath.Join(t.TempDir(), "missing.img"), Config: cfg})
	require.Error(t, err)
	assert.Equal(t, app.ErrCodeSourceUnreadable, app.ErrorCode(err))

	_, statErr := os.Stat(cfg.Destination)
	assert.True(t, os.IsNotExist(statErr), "no stage may run before the source opens")
}

func TestHandle_Cancelled(t *testing.T) {
	vol := memory.NewVolume(0)
	for i := uint64(0); i < 10; i++ {
		vol.AddFile(i, "", types.Allocated, []byte("x"))
	}
	withProvider(t, func(io.ReaderAt, int64) (interfaces.MetadataProvider, error) { return vol, nil })

	ctx, _ := testContext()
	cancelCtx, cancel := ctx.WithCancel()
	cancel()

	_, err := Handle(cancelCtx, &Request{SourcePath: writeSource(t, make([]byte, 512)), Config: testConfig(t)})
	require.Error(t, err)
	assert.Equal(t, app.ErrCodeCancelled, app.ErrorCode(err))
}
