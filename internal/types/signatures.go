package types

import (
	"bytes"
	"fmt"
	"strings"
)

// Output layout names.
const (
	AllocatedDirName    = "allocated"
	DeletedDirName      = "deleted"
	JournalFileName     = "usn_journal.bin"
	CarvedDirName       = "carved"
	RebuiltZipDirName   = "rebuilt_zip"
	CarvedFilePrefix    = "carved_"
	JournalStreamPath   = "/$Extend/$UsnJrnl:$J"
	MiB                 = 1024 * 1024
	MaxCarveSize        = 50 * MiB
	MaxExtractSize      = 1024 * MiB
	ReassemblyChunkSize = 1 * MiB
)

// SignatureKind identifies a file type recognised by its magic bytes.
type SignatureKind int

const (
	KindZIP SignatureKind = iota
	KindJPEG
	KindPNG
	KindPDF
)

// Signature maps a magic byte sequence to a file kind.
type Signature struct {
	Kind      SignatureKind
	Magic     []byte
	Extension string
	// Container marks formats the archive validator can open.
	Container bool
}

// DefaultSignatures is the carve table in iteration order. Sequence
// indices are assigned in this order.
var DefaultSignatures = []Signature{
	{Kind: KindZIP, Magic: []byte{0x50, 0x4B, 0x03, 0x04}, Extension: ".zip", Container: true},
	{Kind: KindJPEG, Magic: []byte{0xFF, 0xD8, 0xFF}, Extension: ".jpg"},
	{Kind: KindPNG, Magic: []byte{0x89, 'P', 'N', 'G'}, Extension: ".png"},
	{Kind: KindPDF, Magic: []byte{'%', 'P', 'D', 'F'}, Extension: ".pdf"},
}

var signatureKindNames = map[SignatureKind]string{
	KindZIP:  "zip",
	KindJPEG: "jpg",
	KindPNG:  "png",
	KindPDF:  "pdf",
}

func (k SignatureKind) String() string {
	if name, ok := signatureKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind_%d", int(k))
}

// MarshalText renders the kind for JSON and YAML reports.
func (k SignatureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Extension returns the carved file extension for the kind.
func (k SignatureKind) Extension() string {
	for _, sig := range DefaultSignatures {
		if sig.Kind == k {
			return sig.Extension
		}
	}
	return ".bin"
}

// IsContainer reports whether the kind is a structured container format.
func (k SignatureKind) IsContainer() bool {
	for _, sig := range DefaultSignatures {
		if sig.Kind == k {
			return sig.Container
		}
	}
	return false
}

// ParseSignatureKind resolves a kind from its name ("zip") or extension (".zip").
func ParseSignatureKind(name string) (SignatureKind, error) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".")
	if name == "jpeg" {
		name = "jpg"
	}
	for kind, n := range signatureKindNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown signature kind %q", name)
}

// SelectSignatures returns the subset of DefaultSignatures named by kinds,
// keeping table order. An empty list selects every signature.
func SelectSignatures(kinds []string) ([]Signature, error) {
	if len(kinds) == 0 {
		return DefaultSignatures, nil
	}
	wanted := make(map[SignatureKind]bool, len(kinds))
	for _, name := range kinds {
		kind, err := ParseSignatureKind(name)
		if err != nil {
			return nil, err
		}
		wanted[kind] = true
	}
	selected := make([]Signature, 0, len(wanted))
	for _, sig := range DefaultSignatures {
		if wanted[sig.Kind] {
			selected = append(selected, sig)
		}
	}
	return selected, nil
}

// FormatMagic renders magic bytes as spaced hex, e.g. "50 4B 03 04".
func FormatMagic(magic []byte) string {
	var b bytes.Buffer
	for i, c := range magic {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}
