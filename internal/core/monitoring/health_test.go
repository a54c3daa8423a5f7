package monitoring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pakforge/pakd/internal/core/faults"
)

// =============================================================================
// State Transition Tests
// =============================================================================

func TestNewMonitor_StartsHealthy(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, StateHealthy, m.State())
}

func TestRecordError_SeverityMapping(t *testing.T) {
	tests := []struct {
		name     string
		severity faults.Severity
		expected HealthState
	}{
		{"critical forces critical", faults.SeverityCritical, StateCritical},
		{"high forces degraded", faults.SeverityHigh, StateDegraded},
		{"medium forces warning", faults.SeverityMedium, StateWarning},
		{"low leaves healthy", faults.SeverityLow, StateHealthy},
		{"info leaves healthy", faults.SeverityInfo, StateHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			m.RecordError(faults.Event{Type: faults.UnknownError, Severity: tt.severity})
			assert.Equal(t, tt.expected, m.State())
		})
	}
}

func TestRecordError_StateOnlyWorsens(t *testing.T) {
	m := NewMonitor()

	m.RecordError(faults.Event{Severity: faults.SeverityHigh})
	assert.Equal(t, StateDegraded, m.State())

	// a later milder error never improves the state
	m.RecordError(faults.Event{Severity: faults.SeverityMedium})
	assert.Equal(t, StateDegraded, m.State())

	m.RecordError(faults.Event{Severity: faults.SeverityCritical})
	assert.Equal(t, StateCritical, m.State())
}

func TestRecordError_CriticalBypassesIntermediateStates(t *testing.T) {
	m := NewMonitor()
	m.RecordError(faults.Event{Severity: faults.SeverityCritical})
	assert.Equal(t, StateCritical, m.State())
}

func TestMarkDegraded(t *testing.T) {
	m := NewMonitor()
	m.MarkDegraded()
	assert.Equal(t, StateDegraded, m.State())

	// does not demote a critical state
	m.RecordError(faults.Event{Severity: faults.SeverityCritical})
	m.MarkDegraded()
	assert.Equal(t, StateCritical, m.State())
}

// =============================================================================
// Counter Tests
// =============================================================================

func TestSnapshot_Counters(t *testing.T) {
	m := NewMonitor()
	m.RecordError(faults.Event{Severity: faults.SeverityMedium})
	m.RecordError(faults.Event{Severity: faults.SeverityCritical})
	m.RecordRecoveryAttempt()
	m.RecordRecoveryAttempt()
	m.RecordRecoveryAttempt()

	snap := m.Snapshot()
	assert.Equal(t, StateCritical, snap.State)
	assert.Equal(t, int64(2), snap.TotalErrors)
	assert.Equal(t, int64(1), snap.CriticalErrors)
	assert.Equal(t, int64(3), snap.RecoveryAttempts)
}

func TestRestore(t *testing.T) {
	m := NewMonitor()
	m.Restore(Snapshot{
		State:            StateDegraded,
		TotalErrors:      9,
		CriticalErrors:   1,
		RecoveryAttempts: 4,
	})

	snap := m.Snapshot()
	assert.Equal(t, StateDegraded, snap.State)
	assert.Equal(t, int64(9), snap.TotalErrors)
	assert.Equal(t, int64(1), snap.CriticalErrors)
	assert.Equal(t, int64(4), snap.RecoveryAttempts)

	// restored state still only worsens
	m.RecordError(faults.Event{Severity: faults.SeverityMedium})
	assert.Equal(t, StateDegraded, m.State())
}

func TestRestore_IgnoresUnknownState(t *testing.T) {
	m := NewMonitor()
	m.Restore(Snapshot{State: "corrupted"})
	assert.Equal(t, StateHealthy, m.State())
}

func TestReset_StateOnly(t *testing.T) {
	m := NewMonitor()
	m.RecordError(faults.Event{Severity: faults.SeverityCritical})

	m.Reset()
	snap := m.Snapshot()
	assert.Equal(t, StateHealthy, snap.State)
	// counters are monotonic across resets
	assert.Equal(t, int64(1), snap.TotalErrors)
	assert.Equal(t, int64(1), snap.CriticalErrors)
}

func TestMonitor_ConcurrentRecording(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordError(faults.Event{Severity: faults.SeverityMedium})
			m.RecordRecoveryAttempt()
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, StateWarning, snap.State)
	assert.Equal(t, int64(50), snap.TotalErrors)
	assert.Equal(t, int64(50), snap.RecoveryAttempts)
}
