package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the recovery pipeline.
type ErrorKind string

const (
	// EntryReadFailure: one entry could not be read or written. Skipped.
	EntryReadFailure ErrorKind = "EntryReadFailure"
	// StreamUnavailable: the change journal is absent or unreadable. Skipped.
	StreamUnavailable ErrorKind = "StreamUnavailable"
	// MalformedCandidate: carved bytes do not form the expected container.
	MalformedCandidate ErrorKind = "MalformedCandidate"
	// SourceUnreadable: the source image cannot be opened. Fatal.
	SourceUnreadable ErrorKind = "SourceUnreadable"
	// CarveWriteFailure: a carved range could not be written out.
	CarveWriteFailure ErrorKind = "CarveWriteFailure"
	// MetadataUnavailable: the filesystem metadata could not be opened.
	MetadataUnavailable ErrorKind = "MetadataUnavailable"
	// RunCancelled: the run was stopped through its context.
	RunCancelled ErrorKind = "RunCancelled"
)

// Sentinels matched by errors.Is against a UnitError.
var (
	ErrEntryRead           = errors.New("entry read failure")
	ErrStreamUnavailable   = errors.New("stream unavailable")
	ErrMalformedCandidate  = errors.New("malformed candidate")
	ErrSourceUnreadable    = errors.New("source unreadable")
	ErrCarveWrite          = errors.New("carve write failure")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrRunCancelled        = errors.New("run cancelled")
)

var kindSentinels = map[ErrorKind]error{
	EntryReadFailure:    ErrEntryRead,
	StreamUnavailable:   ErrStreamUnavailable,
	MalformedCandidate:  ErrMalformedCandidate,
	SourceUnreadable:    ErrSourceUnreadable,
	CarveWriteFailure:   ErrCarveWrite,
	MetadataUnavailable: ErrMetadataUnavailable,
	RunCancelled:        ErrRunCancelled,
}

// UnitError is a failure contained to one unit of work: an entry, a
// carve candidate, the journal stream.
type UnitError struct {
	Kind ErrorKind
	Unit string
	Err  error
}

// NewUnitError wraps err as a failure of kind for the named unit.
func NewUnitError(kind ErrorKind, unit string, err error) *UnitError {
	return &UnitError{Kind: kind, Unit: unit, Err: err}
}

func (e *UnitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Unit)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Unit, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel belonging to the error's kind.
func (e *UnitError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// Warning converts the error into a stage warning.
func (e *UnitError) Warning(stage Stage) StageWarning {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return StageWarning{Stage: stage, Kind: e.Kind, Unit: e.Unit, Message: msg}
}
