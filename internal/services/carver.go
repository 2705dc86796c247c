package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// carveMilestone is the number of carved files between milestone events.
const carveMilestone = 100

// Carver extracts signature-delimited byte ranges from a raw image buffer.
type Carver struct {
	signatures   []types.Signature
	maxCarveSize int64
	trie         *ahocorasick.Trie
	// owners maps a trie pattern number to the signatures sharing that magic.
	owners       [][]int
	hash         bool
}

// NewCarver compiles the signature table. A non-positive maxCarveSize
// selects types.MaxCarveSize.
func NewCarver(sigs []types.Signature, maxCarveSize int64, hash bool) *Carver {
	if maxCarveSize <= 0 {
		maxCarveSize = types.MaxCarveSize
	}

	builder := ahocorasick.NewTrieBuilder()
	var owners [][]int
	byMagic := make(map[string]int)
	for i, sig := range sigs {
		if len(sig.Magic) == 0 {
			continue
		}
		if p, ok := byMagic[string(sig.Magic)]; ok {
			owners[p] = append(owners[p], i)
			continue
		}
		byMagic[string(sig.Magic)] = len(owners)
		owners = append(owners, []int{i})
		builder.AddPattern(sig.Magic)
	}

	return &Carver{
		signatures:   sigs,
		maxCarveSize: maxCarveSize,
		trie:         builder.Build(),
		owners:       owners,
		hash:         hash,
	}
}

// Scan locates every candidate in buf in one pass. For each signature a
// match is accepted only if it starts at or after the end of the previous
// accepted match of the same signature; matches of different signatures may
// overlap and are never de-duplicated. Sequence indices follow signature
// table order, then offset order.
func (c *Carver) Scan(buf []byte) []types.CarveCandidate {
	offsets := make([][]int64, len(c.signatures))
	nextAllowed := make([]int64, len(c.signatures))
	// Walk reports matches in end offset order, so the offsets of any one
	// pattern arrive strictly increasing.
	c.trie.Walk(buf, func(end, n, pattern int64) bool {
		off := end - n + 1
		for _, p := range c.owners[pattern] {
			if off < nextAllowed[p] {
				continue
			}
			offsets[p] = append(offsets[p], off)
			nextAllowed[p] = off + n
		}
		return true
	})
	return c.candidates(int64(len(buf)), offsets)
}

// scanPerSignature is the reference scan: an independent forward substring
// search per signature, resuming just past each match.
func (c *Carver) scanPerSignature(buf []byte) []types.CarveCandidate {
	offsets := make([][]int64, len(c.signatures))
	for p, sig := range c.signatures {
		if len(sig.Magic) == 0 {
			continue
		}
		pos := 0
		for {
			idx := bytes.Index(buf[pos:], sig.Magic)
			if idx < 0 {
				break
			}
			offsets[p] = append(offsets[p], int64(pos+idx))
			pos += idx + len(sig.Magic)
		}
	}
	return c.candidates(int64(len(buf)), offsets)
}

func (c *Carver) candidates(bufLen int64, offsets [][]int64) []types.CarveCandidate {
	var out []types.CarveCandidate
	seq := 0
	for p, sig := range c.signatures {
		for _, off := range offsets[p] {
			out = append(out, types.CarveCandidate{
				SequenceIndex:   seq,
				SignatureKind:   sig.Kind,
				SourceOffset:    off,
				ExtractedLength: extractLength(bufLen, off, c.maxCarveSize),
			})
			seq++
		}
	}
	return out
}

func extractLength(bufLen, offset, maxCarveSize int64) int64 {
	if remaining := bufLen - offset; remaining < maxCarveSize {
		return remaining
	}
	return maxCarveSize
}

// Carve scans buf and writes each candidate to outDir/carved_<seq><ext>.
// A candidate that cannot be written is recorded as a warning and skipped.
// The returned slice holds the candidates that were written.
func (c *Carver) Carve(ctx context.Context, buf []byte, outDir string, run *RecoveryRun) ([]types.CarveCandidate, error) {
	candidates := c.Scan(buf)
	run.Logf(types.StageCarving, logrus.DebugLevel, "%d signature matches in %d bytes", len(candidates), len(buf))
	if len(candidates) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create carve directory: %w", err)
	}

	written := make([]types.CarveCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		cand.OutputPath = filepath.Join(outDir, cand.FileName())
		digest, err := c.writeCandidate(buf, cand)
		if err != nil {
			run.Warn(types.StageCarving, types.NewUnitError(types.CarveWriteFailure, cand.FileName(), err))
			continue
		}
		cand.Digest = digest
		written = append(written, cand)

		run.CarvedCount++
		if run.CarvedCount%carveMilestone == 0 {
			run.Milestone(types.StageCarving, run.CarvedCount, "%d files carved", run.CarvedCount)
		}
	}
	return written, nil
}

func (c *Carver) writeCandidate(buf []byte, cand types.CarveCandidate) (string, error) {
	f, err := os.Create(cand.OutputPath)
	if err != nil {
		return "", err
	}

	var w io.Writer = f
	var hasher *blake3.Hasher
	if c.hash {
		hasher = blake3.New()
		w = io.MultiWriter(f, hasher)
	}

	_, err = w.Write(buf[cand.SourceOffset:cand.End()])
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if hasher == nil {
		return "", nil
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
