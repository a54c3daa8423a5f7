// Package domain contains pure deployment domain types and the status
// state machines. Following the core/shell split, this package does no I/O.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Domain Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownPlatform   = errors.New("platform not part of this deployment")
	ErrRecordTerminal    = errors.New("deployment record is terminal")
	ErrNoTargets         = errors.New("deployment has no targets")
)

// =============================================================================
// Deployment Status
// =============================================================================

// Status is the aggregate status of a deployment run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the aggregate status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// =============================================================================
// Platform Status
// =============================================================================

// PlatformState is the per-target status within a deployment run.
type PlatformState string

const (
	PlatformPending    PlatformState = "pending"
	PlatformInProgress PlatformState = "in_progress"
	PlatformCompleted  PlatformState = "completed"
	PlatformFailed     PlatformState = "failed"
	PlatformSkipped    PlatformState = "skipped"
)

// Terminal reports whether the platform state is final.
func (s PlatformState) Terminal() bool {
	switch s {
	case PlatformCompleted, PlatformFailed, PlatformSkipped:
		return true
	}
	return false
}

// validPlatformTransitions defines the allowed per-target transitions.
// Targets never regress to an earlier state.
var validPlatformTransitions = map[PlatformState][]PlatformState{
	PlatformPending:    {PlatformInProgress, PlatformSkipped, PlatformFailed},
	PlatformInProgress: {PlatformCompleted, PlatformFailed, PlatformSkipped},
	PlatformCompleted:  {},
	PlatformFailed:     {},
	PlatformSkipped:    {},
}

// ValidatePlatformTransition checks if a per-target transition is valid.
func ValidatePlatformTransition(from, to PlatformState) error {
	allowed, exists := validPlatformTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// PlatformStatus tracks one target within a deployment record.
type PlatformStatus struct {
	Status    PlatformState `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Attempts  int           `json:"attempts,omitempty"`
}

// =============================================================================
// Log Entries
// =============================================================================

// LogEntry is one line of the append-only deployment log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Platform  string    `json:"platform,omitempty"`
	Message   string    `json:"message"`
}

// =============================================================================
// Deployment Mode
// =============================================================================

// Mode controls how target jobs are scheduled within a run.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// =============================================================================
// Deployment Record
// =============================================================================

// DeploymentRecord is the durable document for one deployment run.
// It is mutated only by the coordinator while the run is live and becomes
// immutable once Status reaches a terminal value.
type DeploymentRecord struct {
	ID          string                    `json:"id"`
	Package     string                    `json:"package"`
	Version     string                    `json:"version"`
	Mode        Mode                      `json:"mode"`
	DryRun      bool                      `json:"dry_run,omitempty"`
	TriggeredBy string                    `json:"triggered_by,omitempty"`
	Status      Status                    `json:"status"`
	Platforms   map[string]PlatformStatus `json:"platforms"`
	Logs        []LogEntry                `json:"logs,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// NewDeploymentRecord creates a record for a run over the given targets.
// All targets start pending; the aggregate status starts in_progress because
// the record is allocated at dispatch time.
func NewDeploymentRecord(pkg, version string, targets []string, mode Mode, dryRun bool, triggeredBy string) (*DeploymentRecord, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	now := time.Now().UTC()
	platforms := make(map[string]PlatformStatus, len(targets))
	for _, t := range targets {
		platforms[t] = PlatformStatus{
			Status:    PlatformPending,
			Timestamp: now,
		}
	}

	return &DeploymentRecord{
		ID:          uuid.New().String(),
		Package:     pkg,
		Version:     version,
		Mode:        mode,
		DryRun:      dryRun,
		TriggeredBy: triggeredBy,
		Status:      StatusInProgress,
		Platforms:   platforms,
		StartedAt:   now,
	}, nil
}

// AppendLog adds an entry to the record's append-only log.
func (r *DeploymentRecord) AppendLog(level, platform, message string) {
	r.Logs = append(r.Logs, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Platform:  platform,
		Message:   message,
	})
}

// SetPlatformStatus transitions a target to a new state, stamping the
// timestamp and appending a log entry. Transitions are monotonic.
func (r *DeploymentRecord) SetPlatformStatus(name string, to PlatformState, message string) error {
	if r.Status.Terminal() {
		return ErrRecordTerminal
	}

	current, ok := r.Platforms[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
	}
	if err := ValidatePlatformTransition(current.Status, to); err != nil {
		return err
	}

	current.Status = to
	current.Message = message
	current.Timestamp = time.Now().UTC()
	r.Platforms[name] = current

	level := "info"
	if to == PlatformFailed {
		level = "error"
	}
	if message == "" {
		message = string(to)
	}
	r.AppendLog(level, name, message)
	return nil
}

// RecordAttempt increments the attempt counter for a target.
func (r *DeploymentRecord) RecordAttempt(name string) {
	if s, ok := r.Platforms[name]; ok {
		s.Attempts++
		r.Platforms[name] = s
	}
}

// =============================================================================
// Aggregate Status
// =============================================================================

// AggregateStatus computes the aggregate run status from per-target states:
// completed iff every non-skipped target completed, failed otherwise.
// Non-terminal targets yield in_progress.
func AggregateStatus(platforms map[string]PlatformStatus) Status {
	for _, s := range platforms {
		if !s.Status.Terminal() {
			return StatusInProgress
		}
	}
	for _, s := range platforms {
		if s.Status == PlatformFailed {
			return StatusFailed
		}
	}
	return StatusCompleted
}

// Finalize computes the terminal aggregate status once all targets have
// resolved, stamping the completion time.
func (r *DeploymentRecord) Finalize() error {
	status := AggregateStatus(r.Platforms)
	if !status.Terminal() {
		return fmt.Errorf("%w: unresolved targets remain", ErrInvalidTransition)
	}

	now := time.Now().UTC()
	r.Status = status
	r.CompletedAt = &now
	r.AppendLog("info", "", fmt.Sprintf("deployment %s", status))
	return nil
}

// FailedPlatforms returns the names of targets that ended failed.
func (r *DeploymentRecord) FailedPlatforms() []string {
	var failed []string
	for name, s := range r.Platforms {
		if s.Status == PlatformFailed {
			failed = append(failed, name)
		}
	}
	return failed
}
