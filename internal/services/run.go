package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/efm6988/ntfs-forensic-recovery/internal/types"
)

// EventKind distinguishes the notifications a run emits.
type EventKind int

const (
	// EventLog carries one log line.
	EventLog EventKind = iota
	// EventProgress carries the metadata-pass progress fraction.
	EventProgress
	// EventMilestone carries a discrete count reached by a stage.
	EventMilestone
	// EventComplete is the terminal event, emitted exactly once.
	EventComplete
)

// Event is a one-way notification from the worker to the controller.
type Event struct {
	Kind     EventKind
	RunID    string
	Stage    types.Stage
	Level    logrus.Level
	Message  string
	Fraction float64
	Count    int
	Status   types.RunStatus
	Time     time.Time
}

// EventSink receives run events. It is called from the worker goroutine.
type EventSink func(Event)

// LogLine is one entry of the run's append-only log.
type LogLine struct {
	Time    time.Time    `json:"time" yaml:"time"`
	Level   logrus.Level `json:"level" yaml:"level"`
	Stage   types.Stage  `json:"stage" yaml:"stage"`
	Message string       `json:"message" yaml:"message"`
}

// RecoveryRun is the state of one pipeline execution. It is owned by the
// orchestrator for the lifetime of the run and is not safe for concurrent
// use; controllers observe it only through emitted events.
type RecoveryRun struct {
	ID        string
	StartedAt time.Time

	RecoveredCount int
	CarvedCount    int
	RebuiltCount   int
	SkippedCount   int

	progress     float64
	lastPermille int
	completed    bool
	log          []LogLine
	warnings     []types.StageWarning
	sink         EventSink
}

// NewRecoveryRun creates run state that forwards events to sink. A nil sink
// discards events.
func NewRecoveryRun(sink EventSink) *RecoveryRun {
	if sink == nil {
		sink = func(Event) {}
	}
	return &RecoveryRun{
		ID:           uuid.NewString(),
		StartedAt:    time.Now(),
		lastPermille: -1,
		sink:         sink,
	}
}

func (r *RecoveryRun) emit(ev Event) {
	ev.RunID = r.ID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.sink(ev)
}

// Logf appends a line to the run log and emits it.
func (r *RecoveryRun) Logf(stage types.Stage, level logrus.Level, format string, args ...interface{}) {
	line := LogLine{
		Time:    time.Now(),
		Level:   level,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
	r.log = append(r.log, line)
	r.emit(Event{Kind: EventLog, Stage: stage, Level: level, Message: line.Message, Time: line.Time})
}

// Warn records a contained failure against stage and logs it.
func (r *RecoveryRun) Warn(stage types.Stage, err error) {
	var unitErr *types.UnitError
	var warning types.StageWarning
	if errors.As(err, &unitErr) {
		warning = unitErr.Warning(stage)
	} else {
		warning = types.StageWarning{Stage: stage, Kind: types.ErrorKind("Error"), Message: err.Error()}
	}
	r.warnings = append(r.warnings, warning)
	r.Logf(stage, logrus.WarnLevel, "%s", warning.String())
}

// SetProgress records the metadata-pass fraction, clamped to [0,1]. Events
// are emitted once per per-mille step.
func (r *RecoveryRun) SetProgress(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	r.progress = fraction
	permille := int(fraction * 1000)
	if permille == r.lastPermille {
		return
	}
	r.lastPermille = permille
	r.emit(Event{Kind: EventProgress, Stage: types.StageMetadata, Fraction: fraction})
}

// Milestone emits a discrete count reached by a stage and logs it.
func (r *RecoveryRun) Milestone(stage types.Stage, count int, format string, args ...interface{}) {
	r.Logf(stage, logrus.InfoLevel, format, args...)
	r.emit(Event{Kind: EventMilestone, Stage: stage, Count: count})
}

// Complete emits the terminal event. Later calls are no-ops.
func (r *RecoveryRun) Complete() {
	if r.completed {
		return
	}
	r.completed = true
	status := r.Status()
	r.emit(Event{Kind: EventComplete, Stage: types.StageRun, Status: status, Message: "RECOVERY COMPLETE"})
}

// Progress returns the last recorded progress fraction.
func (r *RecoveryRun) Progress() float64 {
	return r.progress
}

// Log returns a copy of the run log.
func (r *RecoveryRun) Log() []LogLine {
	out := make([]LogLine, len(r.log))
	copy(out, r.log)
	return out
}

// Warnings returns a copy of the recorded warnings.
func (r *RecoveryRun) Warnings() []types.StageWarning {
	out := make([]types.StageWarning, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Status is Success until the first warning is recorded.
func (r *RecoveryRun) Status() types.RunStatus {
	if len(r.warnings) > 0 {
		return types.PartialFailure
	}
	return types.Success
}

// Report is the terminal summary of a run.
type Report struct {
	RunID     string                `json:"run_id" yaml:"run_id"`
	Status    types.RunStatus       `json:"status" yaml:"status"`
	Options   types.RecoveryOptions `json:"options" yaml:"options"`
	StartedAt time.Time             `json:"started_at" yaml:"started_at"`
	Duration  time.Duration         `json:"duration" yaml:"duration"`

	RecoveredCount int `json:"recovered_count" yaml:"recovered_count"`
	CarvedCount    int `json:"carved_count" yaml:"carved_count"`
	RebuiltCount   int `json:"rebuilt_count" yaml:"rebuilt_count"`
	SkippedCount   int `json:"skipped_count" yaml:"skipped_count"`

	Recovered []types.RecoveredFile  `json:"recovered,omitempty" yaml:"recovered,omitempty"`
	Carved    []types.CarveCandidate `json:"carved,omitempty" yaml:"carved,omitempty"`
	Rebuilt   []types.RebuildResult  `json:"rebuilt,omitempty" yaml:"rebuilt,omitempty"`

	JournalPath  string `json:"journal_path,omitempty" yaml:"journal_path,omitempty"`
	JournalBytes int64  `json:"journal_bytes,omitempty" yaml:"journal_bytes,omitempty"`

	Warnings []types.StageWarning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Log      []LogLine            `json:"-" yaml:"-"`
}

// finish copies the run counters into the report.
func (r *RecoveryRun) finish(report *Report) {
	report.RunID = r.ID
	report.StartedAt = r.StartedAt
	report.Duration = time.Since(r.StartedAt)
	report.Status = r.Status()
	report.RecoveredCount = r.RecoveredCount
	report.CarvedCount = r.CarvedCount
	report.RebuiltCount = r.RebuiltCount
	report.SkippedCount = r.SkippedCount
	report.Warnings = r.Warnings()
	report.Log = r.Log()
}
