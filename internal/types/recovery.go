package types

import "fmt"

// RecoveredFileStatus is the outcome of reassembling one entry.
type RecoveredFileStatus int

const (
	// Complete means every declared byte was written.
	Complete RecoveredFileStatus = iota
	// Truncated means the provider ran out of data before the declared size.
	Truncated
	// Failed means a read or write error stopped the entry.
	Failed
)

var recoveredFileStatusNames = map[RecoveredFileStatus]string{
	Complete:  "complete",
	Truncated: "truncated",
	Failed:    "failed",
}

func (s RecoveredFileStatus) String() string {
	if name, ok := recoveredFileStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status_%d", int(s))
}

// MarshalText renders the status for JSON and YAML reports.
func (s RecoveredFileStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RecoveredFile describes one file written by the reassembly pass.
type RecoveredFile struct {
	SourceEntry  FilesystemEntry     `json:"source_entry" yaml:"source_entry"`
	OutputPath   string              `json:"output_path" yaml:"output_path"`
	BytesWritten int64               `json:"bytes_written" yaml:"bytes_written"`
	Status       RecoveredFileStatus `json:"status" yaml:"status"`
	Digest       string              `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// CarveCandidate is a byte range hypothesised to hold a file of one kind.
type CarveCandidate struct {
	SequenceIndex   int           `json:"sequence_index" yaml:"sequence_index"`
	SignatureKind   SignatureKind `json:"signature_kind" yaml:"signature_kind"`
	SourceOffset    int64         `json:"source_offset" yaml:"source_offset"`
	ExtractedLength int64         `json:"extracted_length" yaml:"extracted_length"`
	OutputPath      string        `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	Digest          string        `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// FileName returns the carved file name, carved_<seq><ext>.
func (c CarveCandidate) FileName() string {
	return fmt.Sprintf("%s%d%s", CarvedFilePrefix, c.SequenceIndex, c.SignatureKind.Extension())
}

// End returns the exclusive end offset of the extracted range.
func (c CarveCandidate) End() int64 {
	return c.SourceOffset + c.ExtractedLength
}

// RebuildStatus is the outcome of validating one carved container.
type RebuildStatus int

const (
	// Rebuilt means the container parsed and its contents were extracted.
	Rebuilt RebuildStatus = iota
	// NotAnArchive means the candidate did not parse as a container.
	NotAnArchive
)

func (s RebuildStatus) String() string {
	switch s {
	case Rebuilt:
		return "rebuilt"
	case NotAnArchive:
		return "not_an_archive"
	default:
		return fmt.Sprintf("rebuild_status_%d", int(s))
	}
}

// MarshalText renders the status for JSON and YAML reports.
func (s RebuildStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RebuildResult records archive validation of one carve candidate.
type RebuildResult struct {
	SourceCandidate     CarveCandidate `json:"source_candidate" yaml:"source_candidate"`
	Status              RebuildStatus  `json:"status" yaml:"status"`
	ExtractedEntryCount int            `json:"extracted_entry_count" yaml:"extracted_entry_count"`
	OutputDir           string         `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
}

// RunStatus is the single terminal outcome of a recovery run.
type RunStatus int

const (
	// Success means no stage recorded a warning.
	Success RunStatus = iota
	// PartialFailure means at least one unit or stage failed.
	PartialFailure
)

func (s RunStatus) String() string {
	if s == Success {
		return "success"
	}
	return "partial_failure"
}

// MarshalText renders the status for JSON and YAML reports.
func (s RunStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage names one step of the recovery pipeline.
type Stage string

const (
	StageMetadata Stage = "metadata"
	StageJournal  Stage = "journal"
	StageCarving  Stage = "carving"
	StageArchives Stage = "archives"
	StageRun      Stage = "run"
)

// StageWarning is a contained failure recorded against a stage.
type StageWarning struct {
	Stage   Stage     `json:"stage" yaml:"stage"`
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Unit    string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Message string    `json:"message" yaml:"message"`
}

func (w StageWarning) String() string {
	if w.Unit != "" {
		return fmt.Sprintf("[%s] %s %s: %s", w.Stage, w.Kind, w.Unit, w.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Stage, w.Kind, w.Message)
}

// RecoveryOptions selects which stages run.
type RecoveryOptions struct {
	RecoverEntries  bool `json:"recover_entries" yaml:"recover_entries" mapstructure:"recover_entries"`
	RecoverDeleted  bool `json:"recover_deleted" yaml:"recover_deleted" mapstructure:"recover_deleted"`
	EnableCarving   bool `json:"enable_carving" yaml:"enable_carving" mapstructure:"enable_carving"`
	ExtractJournal  bool `json:"extract_journal" yaml:"extract_journal" mapstructure:"extract_journal"`
	RebuildArchives bool `json:"rebuild_archives" yaml:"rebuild_archives" mapstructure:"rebuild_archives"`
}
