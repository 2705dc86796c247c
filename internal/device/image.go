package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
)

const (
	sectorSize = 512

	// NTFS boot sector OEM ID at byte 3.
	ntfsOEMOffset = 3

	mbrSignatureOffset  = 510
	mbrPartitionOffset  = 446
	mbrPartitionEntries = 4
	mbrPartitionSize    = 16
	mbrTypeNTFS         = 0x07

	gptHeaderOffset       = sectorSize
	gptEntriesStartOffset = 2 * sectorSize
	gptEntrySize          = 128
	gptMaxEntries         = 128
)

var (
	ntfsOEMID    = []byte("NTFS    ")
	gptSignature = []byte("EFI PART")
	mbrSignature = []byte{0x55, 0xAA}
)

// EBD0A0A2-B9E5-4433-87C0-68B6B72699C7 in on-disk (mixed-endian) order.
var basicDataPartitionGUID = []byte{
	0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44,
	0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7,
}

// Config controls how a source image is opened.
type Config struct {
	AutoDetectVolume bool  `json:"auto_detect_volume" yaml:"auto_detect_volume" mapstructure:"auto_detect_volume"`
	DefaultOffset    int64 `json:"default_offset" yaml:"default_offset" mapstructure:"default_offset"`
	UseMmap          bool  `json:"use_mmap" yaml:"use_mmap" mapstructure:"use_mmap"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() *Config {
	return &Config{AutoDetectVolume: true, UseMmap: true}
}

// Image is a raw disk image or block device opened read-only.
type Image struct {
	file   *os.File
	path   string
	size   int64
	offset int64
	method string
	logger logrus.FieldLogger

	bufOnce sync.Once
	buf     []byte
	mapped  mmap.MMap
	bufErr  error
	useMmap bool

	statsMu sync.Mutex
	stats   Statistics
}

// Statistics tracks image access.
type Statistics struct {
	DetectionTime time.Duration
	Reads         int64
	BytesRead     int64
	Mapped        bool
}

// Open opens the source at path and locates the NTFS volume inside it.
// A nil config selects DefaultConfig; a nil logger the standard logger.
func Open(path string, config *Config, logger logrus.FieldLogger) (*Image, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	size, err := sourceSize(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size source: %w", err)
	}

	img := &Image{
		file:    file,
		path:    path,
		size:    size,
		logger:  logger.WithField("source", path),
		useMmap: config.UseMmap,
	}

	if !config.AutoDetectVolume {
		img.offset = config.DefaultOffset
		img.method = "configured"
		return img, nil
	}

	start := time.Now()
	offset, method, err := img.detectVolumeOffset()
	img.stats.DetectionTime = time.Since(start)
	if err != nil {
		img.offset = config.DefaultOffset
		img.method = "fallback"
		img.logger.WithError(err).Warnf("NTFS volume not located, using offset %d", img.offset)
		return img, nil
	}
	img.offset = offset
	img.method = method
	img.logger.WithFields(logrus.Fields{"offset": offset, "method": method}).Debug("NTFS volume located")
	return img, nil
}

// sourceSize handles block devices, whose Stat size is zero.
func sourceSize(f *os.File) (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if st.Mode().IsRegular() {
		return st.Size(), nil
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// detectVolumeOffset tries, in order: an unpartitioned volume, a GPT basic
// data partition, an MBR NTFS partition. Every hit is confirmed by the
// boot sector OEM ID.
func (img *Image) detectVolumeOffset() (int64, string, error) {
	head := make([]byte, gptEntriesStartOffset+gptMaxEntries*gptEntrySize)
	n, err := img.file.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return 0, "", fmt.Errorf("failed to read partition area: %w", err)
	}
	head = head[:n]

	if hasNTFSBootSector(head) {
		return 0, "raw", nil
	}

	if offsets, err := gptPartitionOffsets(head); err == nil {
		for _, off := range offsets {
			if img.isNTFSAt(off) {
				return off, "gpt", nil
			}
		}
	} else {
		img.logger.WithError(err).Debug("GPT scan")
	}

	if offsets, err := mbrPartitionOffsets(head); err == nil {
		for _, off := range offsets {
			if img.isNTFSAt(off) {
				return off, "mbr", nil
			}
		}
	} else {
		img.logger.WithError(err).Debug("MBR scan")
	}

	return 0, "", errors.New("no NTFS boot sector found")
}

func (img *Image) isNTFSAt(off int64) bool {
	boot := make([]byte, sectorSize)
	if _, err := img.file.ReadAt(boot, off); err != nil {
		return false
	}
	return hasNTFSBootSector(boot)
}

func hasNTFSBootSector(buf []byte) bool {
	if len(buf) < ntfsOEMOffset+len(ntfsOEMID) {
		return false
	}
	return bytes.Equal(buf[ntfsOEMOffset:ntfsOEMOffset+len(ntfsOEMID)], ntfsOEMID)
}

// gptPartitionOffsets returns the byte offsets of basic data partitions.
func gptPartitionOffsets(buf []byte) ([]int64, error) {
	if len(buf) < gptHeaderOffset+len(gptSignature) {
		return nil, errors.New("buffer too small for GPT header")
	}
	if !bytes.Equal(buf[gptHeaderOffset:gptHeaderOffset+len(gptSignature)], gptSignature) {
		return nil, errors.New("no GPT signature")
	}

	var offsets []int64
	for i := 0; i < gptMaxEntries; i++ {
		start := gptEntriesStartOffset + i*gptEntrySize
		if start+gptEntrySize > len(buf) {
			break
		}
		entry := buf[start : start+gptEntrySize]
		if !bytes.Equal(entry[0:16], basicDataPartitionGUID) {
			continue
		}
		startLBA := binary.LittleEndian.Uint64(entry[32:40])
		offsets = append(offsets, int64(startLBA)*sectorSize)
	}
	if len(offsets) == 0 {
		return nil, errors.New("no basic data partition in GPT")
	}
	return offsets, nil
}

// mbrPartitionOffsets returns the byte offsets of NTFS (type 0x07) primary
// partitions.
func mbrPartitionOffsets(buf []byte) ([]int64, error) {
	if len(buf) < sectorSize {
		return nil, errors.New("buffer too small for MBR")
	}
	if !bytes.Equal(buf[mbrSignatureOffset:mbrSignatureOffset+2], mbrSignature) {
		return nil, errors.New("no MBR signature")
	}

	var offsets []int64
	for i := 0; i < mbrPartitionEntries; i++ {
		entry := buf[mbrPartitionOffset+i*mbrPartitionSize : mbrPartitionOffset+(i+1)*mbrPartitionSize]
		if entry[4] != mbrTypeNTFS {
			continue
		}
		startLBA := binary.LittleEndian.Uint32(entry[8:12])
		offsets = append(offsets, int64(startLBA)*sectorSize)
	}
	if len(offsets) == 0 {
		return nil, errors.New("no NTFS partition in MBR")
	}
	return offsets, nil
}

// ReadAt implements io.ReaderAt over the whole source.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	n, err := img.file.ReadAt(p, off)
	img.statsMu.Lock()
	img.stats.Reads++
	img.stats.BytesRead += int64(n)
	img.statsMu.Unlock()
	return n, err
}

// Bytes returns the whole source as one contiguous buffer. Regular files
// are memory-mapped read-only when enabled; otherwise, or when mapping
// fails, the source is read into memory. The buffer stays valid until Close.
func (img *Image) Bytes() ([]byte, error) {
	img.bufOnce.Do(func() {
		if img.useMmap && img.size > 0 {
			m, err := mmap.Map(img.file, mmap.RDONLY, 0)
			if err == nil {
				img.mapped = m
				img.buf = m
				img.statsMu.Lock()
				img.stats.Mapped = true
				img.statsMu.Unlock()
				return
			}
			img.logger.WithError(err).Debug("mmap failed, reading source into memory")
		}

		buf := make([]byte, img.size)
		n, err := img.ReadAt(buf, 0)
		if err != nil && err != io.EOF {
			img.bufErr = fmt.Errorf("failed to read source: %w", err)
			return
		}
		img.buf = buf[:n]
	})
	return img.buf, img.bufErr
}

// Path returns the source path.
func (img *Image) Path() string {
	return img.path
}

// Size returns the source size in bytes.
func (img *Image) Size() int64 {
	return img.size
}

// VolumeOffset returns the byte offset of the NTFS volume and how it was
// determined ("raw", "gpt", "mbr", "configured" or "fallback").
func (img *Image) VolumeOffset() (int64, string) {
	return img.offset, img.method
}

// Stats returns a snapshot of access statistics.
func (img *Image) Stats() Statistics {
	img.statsMu.Lock()
	defer img.statsMu.Unlock()
	return img.stats
}

// Close unmaps the buffer, if any, and closes the source.
func (img *Image) Close() error {
	var errs []error
	if img.mapped != nil {
		errs = append(errs, img.mapped.Unmap())
		img.mapped = nil
		img.buf = nil
	}
	if img.file != nil {
		errs = append(errs, img.file.Close())
		img.file = nil
	}
	return errors.Join(errs...)
}
