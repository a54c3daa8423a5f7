package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func createTestRecord(t *testing.T) *DeploymentRecord {
	t.Helper()
	record, err := NewDeploymentRecord("acme-lib", "1.2.0", []string{"npm", "pypi"}, ModeParallel, false, "tester")
	require.NoError(t, err)
	return record
}

// =============================================================================
// Record Creation Tests
// =============================================================================

func TestNewDeploymentRecord(t *testing.T) {
	record := createTestRecord(t)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "acme-lib", record.Package)
	assert.Equal(t, "1.2.0", record.Version)
	assert.Equal(t, StatusInProgress, record.Status)
	assert.Len(t, record.Platforms, 2)
	assert.Equal(t, PlatformPending, record.Platforms["npm"].Status)
	assert.Equal(t, PlatformPending, record.Platforms["pypi"].Status)
	assert.NotZero(t, record.StartedAt)
	assert.Nil(t, record.CompletedAt)
}

func TestNewDeploymentRecord_NoTargets(t *testing.T) {
	_, err := NewDeploymentRecord("acme-lib", "1.2.0", nil, ModeParallel, false, "")
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestNewDeploymentRecord_UniqueIDs(t *testing.T) {
	r1 := createTestRecord(t)
	r2 := createTestRecord(t)
	assert.NotEqual(t, r1.ID, r2.ID)
}

// =============================================================================
// Platform Transition Tests
// =============================================================================

func TestSetPlatformStatus_PendingToInProgress(t *testing.T) {
	record := createTestRecord(t)

	err := record.SetPlatformStatus("npm", PlatformInProgress, "deploying")
	require.NoError(t, err)
	assert.Equal(t, PlatformInProgress, record.Platforms["npm"].Status)
	assert.Equal(t, "deploying", record.Platforms["npm"].Message)
	assert.NotZero(t, record.Platforms["npm"].Timestamp)
}

func TestSetPlatformStatus_FullLifecycle(t *testing.T) {
	record := createTestRecord(t)

	require.NoError(t, record.SetPlatformStatus("npm", PlatformInProgress, ""))
	require.NoError(t, record.SetPlatformStatus("npm", PlatformCompleted, "published"))
	assert.Equal(t, PlatformCompleted, record.Platforms["npm"].Status)
}

func TestSetPlatformStatus_PendingToSkipped(t *testing.T) {
	record := createTestRecord(t)

	err := record.SetPlatformStatus("pypi", PlatformSkipped, "health probe failed")
	require.NoError(t, err)
	assert.Equal(t, PlatformSkipped, record.Platforms["pypi"].Status)
}

func TestSetPlatformStatus_NoRegression(t *testing.T) {
	record := createTestRecord(t)
	require.NoError(t, record.SetPlatformStatus("npm", PlatformInProgress, ""))
	require.NoError(t, record.SetPlatformStatus("npm", PlatformCompleted, ""))

	// Terminal states never transition again
	err := record.SetPlatformStatus("npm", PlatformInProgress, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = record.SetPlatformStatus("npm", PlatformFailed, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetPlatformStatus_UnknownPlatform(t *testing.T) {
	record := createTestRecord(t)

	err := record.SetPlatformStatus("cargo", PlatformInProgress, "")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestSetPlatformStatus_AppendsLog(t *testing.T) {
	record := createTestRecord(t)
	before := len(record.Logs)

	require.NoError(t, record.SetPlatformStatus("npm", PlatformInProgress, "deploying"))
	require.Len(t, record.Logs, before+1)
	entry := record.Logs[len(record.Logs)-1]
	assert.Equal(t, "npm", entry.Platform)
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "deploying", entry.Message)
}

func TestSetPlatformStatus_FailureLogsAtError(t *testing.T) {
	record := createTestRecord(t)
	require.NoError(t, record.SetPlatformStatus("npm", PlatformInProgress, ""))
	require.NoError(t, record.SetPlatformStatus("npm", PlatformFailed, "publish failed"))

	entry := record.Logs[len(record.Logs)-1]
	assert.Equal(t, "error", entry.Level)
}

func TestRecordAttempt(t *testing.T) {
	record := createTestRecord(t)

	record.RecordAttempt("npm")
	record.RecordAttempt("npm")
	assert.Equal(t, 2, record.Platforms["npm"].Attempts)
	assert.Equal(t, 0, record.Platforms["pypi"].Attempts)
}

// =============================================================================
// Aggregate Status Tests
// =============================================================================

func TestAggregateStatus_AllCompleted(t *testing.T) {
	platforms := map[string]PlatformStatus{
		"npm":  {Status: PlatformCompleted},
		"pypi": {Status: PlatformCompleted},
	}
	assert.Equal(t, StatusCompleted, AggregateStatus(platforms))
}

func TestAggregateStatus_AnyFailed(t *testing.T) {
	platforms := map[string]PlatformStatus{
		"npm":  {Status: PlatformCompleted},
		"pypi": {Status: PlatformFailed},
	}
	assert.Equal(t, StatusFailed, AggregateStatus(platforms))
}

func TestAggregateStatus_SkippedDoesNotFail(t *testing.T) {
	platforms := map[string]PlatformStatus{
		"npm":  {Status: PlatformCompleted},
		"pypi": {Status: PlatformSkipped},
	}
	assert.Equal(t, StatusCompleted, AggregateStatus(platforms))
}

func TestAggregateStatus_Unresolved(t *testing.T) {
	platforms := map[string]PlatformStatus{
		"npm":  {Status: PlatformCompleted},
		"pypi": {Status: PlatformInProgress},
	}
	assert.Equal(t, StatusInProgress, AggregateStatus(platforms))
}

// =============================================================================
// Finalize Tests
// =============================================================================

func TestFinalize_Completed(t *testing.T) {
	record := createTestRecord(t)
	require.NoError(t, record.SetPlatformStatus("npm", PlatformInProgress, ""))
	require.NoError(t, record.SetPlatformStatus("npm", PlatformCompleted, ""))
	require.NoError(t, record.SetPlatformStatus("pypi", PlatformSkipped, "unhealthy"))

	require.NoError(t, record.Finalize())
	assert.Equal(t, StatusCompleted, record.Status)
	require.NotNil(t, record.CompletedAt)
}

func TestFinalize_Failed(t *testing.T) {
	record := createTestRecord(t)
	require.NoError(t, record.SetPlatformStatus("npm", PlatformInProgress, ""))
	require.NoError(t, record.SetPlatformStatus("npm", PlatformCompleted, ""))
	require.NoError(t, record.SetPlatformStatus("pypi", PlatformInProgress, ""))
	require.NoError(t, record.SetPlatformStatus("pypi", PlatformFailed, "version exists"))

	require.NoError(t, record.Finalize())
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, []string{"pypi"}, record.FailedPlatforms())
}

func TestFinalize_UnresolvedTargets(t *testing.T) {
	record := createTestRecord(t)
	err := record.Finalize()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetPlatformStatus_TerminalRecordIsImmutable(t *testing.T) {
	record := createTestRecord(t)
	require.NoError(t, record.SetPlatformStatus("npm", PlatformSkipped, ""))
	require.NoError(t, record.SetPlatformStatus("pypi", PlatformSkipped, ""))
	require.NoError(t, record.Finalize())

	err := record.SetPlatformStatus("npm", PlatformInProgress, "")
	assert.ErrorIs(t, err, ErrRecordTerminal)
}
