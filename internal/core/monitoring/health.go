// Package monitoring tracks process-wide system health across deployment
// runs. State transitions only worsen automatically; recovery to healthy is
// an explicit operator reset.
package monitoring

import (
	"sync"
	"sync/atomic"

	"github.com/pakforge/pakd/internal/core/faults"
)

// =============================================================================
// Health States
// =============================================================================

// HealthState is the process-wide health level.
type HealthState string

const (
	StateHealthy  HealthState = "healthy"
	StateWarning  HealthState = "warning"
	StateDegraded HealthState = "degraded"
	StateCritical HealthState = "critical"
)

// rank orders states from best to worst.
var rank = map[HealthState]int{
	StateHealthy:  0,
	StateWarning:  1,
	StateDegraded: 2,
	StateCritical: 3,
}

// stateForSeverity maps an observed severity to the minimum health state it
// forces. Low and informational events do not move the state.
var stateForSeverity = map[faults.Severity]HealthState{
	faults.SeverityCritical: StateCritical,
	faults.SeverityHigh:     StateDegraded,
	faults.SeverityMedium:   StateWarning,
	faults.SeverityLow:      StateHealthy,
	faults.SeverityInfo:     StateHealthy,
}

// =============================================================================
// Monitor
// =============================================================================

// Snapshot is a point-in-time view of system health.
type Snapshot struct {
	State            HealthState `json:"state"`
	TotalErrors      int64       `json:"total_errors"`
	CriticalErrors   int64       `json:"critical_errors"`
	RecoveryAttempts int64       `json:"recovery_attempts"`
}

// Monitor holds process-wide health state and monotonic error counters.
// It is shared by the coordinator and recovery engine across runs, so
// counter increments use atomics and state changes are serialized.
type Monitor struct {
	mu    sync.Mutex
	state HealthState

	totalErrors      atomic.Int64
	criticalErrors   atomic.Int64
	recoveryAttempts atomic.Int64
}

// NewMonitor creates a monitor in the healthy state.
func NewMonitor() *Monitor {
	return &Monitor{state: StateHealthy}
}

// State returns the current health state.
func (m *Monitor) State() HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// worsenTo moves the state to at least target, never improving it.
func (m *Monitor) worsenTo(target HealthState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rank[target] > rank[m.state] {
		m.state = target
	}
}

// RecordError counts a classified error and worsens the health state
// according to its severity. A critical error forces the critical state
// immediately regardless of prior state.
func (m *Monitor) RecordError(ev faults.Event) {
	m.totalErrors.Add(1)
	if ev.Severity == faults.SeverityCritical {
		m.criticalErrors.Add(1)
	}
	m.worsenTo(stateForSeverity[ev.Severity])
}

// RecordRecoveryAttempt counts one automatic recovery attempt.
func (m *Monitor) RecordRecoveryAttempt() {
	m.recoveryAttempts.Add(1)
}

// MarkDegraded forces the state to at least degraded. Used when the
// recovery budget for a run is exhausted.
func (m *Monitor) MarkDegraded() {
	m.worsenTo(StateDegraded)
}

// Restore sets the monitor to a previously persisted snapshot. Used at
// process start to carry health state across invocations.
func (m *Monitor) Restore(snap Snapshot) {
	m.mu.Lock()
	if _, ok := rank[snap.State]; ok {
		m.state = snap.State
	}
	m.mu.Unlock()

	m.totalErrors.Store(snap.TotalErrors)
	m.criticalErrors.Store(snap.CriticalErrors)
	m.recoveryAttempts.Store(snap.RecoveryAttempts)
}

// Snapshot returns the current state and counters.
func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		State:            m.State(),
		TotalErrors:      m.totalErrors.Load(),
		CriticalErrors:   m.criticalErrors.Load(),
		RecoveryAttempts: m.recoveryAttempts.Load(),
	}
}

// Reset returns the state to healthy. This is an explicit operator action;
// the error counters are monotonic and are not cleared.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateHealthy
}
