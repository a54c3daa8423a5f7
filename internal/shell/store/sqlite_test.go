package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pakforge/pakd/internal/core/domain"
	"github.com/pakforge/pakd/internal/core/monitoring"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	// a file-backed database: the pool hands out multiple connections and
	// each :memory: connection would see its own empty database
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestRecord(t *testing.T, store *SQLiteStore) *domain.DeploymentRecord {
	t.Helper()
	record, err := domain.NewDeploymentRecord("acme-lib", "1.2.0", []string{"npm", "pypi"}, domain.ModeParallel, false, "tester")
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), record))
	return record
}

// =============================================================================
// Create Tests
// =============================================================================

func TestCreateRecord_Success(t *testing.T) {
	store := setupTestStore(t)
	record := createTestRecord(t, store)

	got, err := store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "acme-lib", got.Package)
	assert.Equal(t, "1.2.0", got.Version)
	assert.Equal(t, domain.ModeParallel, got.Mode)
	assert.Equal(t, "tester", got.TriggeredBy)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Len(t, got.Platforms, 2)
	assert.Equal(t, domain.PlatformPending, got.Platforms["npm"].Status)
	assert.Nil(t, got.CompletedAt)
}

func TestCreateRecord_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	record := createTestRecord(t, store)

	err := store.Create(context.Background(), record)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

// =============================================================================
// Get Tests
// =============================================================================

func TestGetRecord_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "GetRecord", storeErr.Op)
	assert.Equal(t, "missing-id", storeErr.ID)
}

// =============================================================================
// Update Tests
// =============================================================================

func TestUpdateRecord_MutatorApplied(t *testing.T) {
	store := setupTestStore(t)
	record := createTestRecord(t, store)
	ctx := context.Background()

	err := store.Update(ctx, record.ID, func(r *domain.DeploymentRecord) error {
		return r.SetPlatformStatus("npm", domain.PlatformInProgress, "deploying")
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformInProgress, got.Platforms["npm"].Status)
	assert.NotEmpty(t, got.Logs)
}

func TestUpdateRecord_MutatorErrorAborts(t *testing.T) {
	store := setupTestStore(t)
	record := createTestRecord(t, store)
	ctx := context.Background()

	err := store.Update(ctx, record.ID, func(r *domain.DeploymentRecord) error {
		return r.SetPlatformStatus("npm", domain.PlatformCompleted, "") // pending -> completed is invalid
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformPending, got.Platforms["npm"].Status)
}

func TestUpdateRecord_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.Update(context.Background(), "missing-id", func(r *domain.DeploymentRecord) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRecord_PersistsCompletion(t *testing.T) {
	store := setupTestStore(t)
	record := createTestRecord(t, store)
	ctx := context.Background()

	err := store.Update(ctx, record.ID, func(r *domain.DeploymentRecord) error {
		for _, p := range []string{"npm", "pypi"} {
			if err := r.SetPlatformStatus(p, domain.PlatformInProgress, ""); err != nil {
				return err
			}
			if err := r.SetPlatformStatus(p, domain.PlatformCompleted, ""); err != nil {
				return err
			}
		}
		return r.Finalize()
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateRecord_ConcurrentUpdatesAllLand(t *testing.T) {
	store := setupTestStore(t)
	record := createTestRecord(t, store)
	ctx := context.Background()

	// concurrent target goroutines race on the same record; the per-record
	// lock must serialize read-modify-write so no log entry is lost
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := store.Update(ctx, record.ID, func(r *domain.DeploymentRecord) error {
				r.AppendLog("info", "npm", fmt.Sprintf("entry %d", n))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, got.Logs, 10)
}

// =============================================================================
// List And Latest Tests
// =============================================================================

func TestListRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		createTestRecord(t, store)
	}

	records, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestListRecords_Limit(t *testing.T) {
	store := setupTestStore(t)
	for i := 0; i < 5; i++ {
		createTestRecord(t, store)
	}

	records, err := store.List(context.Background(), ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestLatestRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestRecord(t, store)

	newest, err := domain.NewDeploymentRecord("acme-lib", "1.3.0", []string{"npm"}, domain.ModeParallel, false, "")
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, newest))

	got, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", got.Version)
}

func TestLatestRecord_Empty(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Health Snapshot Tests
// =============================================================================

func TestLoadHealth_DefaultWhenUnsaved(t *testing.T) {
	store := setupTestStore(t)

	snap, err := store.LoadHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, monitoring.StateHealthy, snap.State)
	assert.Zero(t, snap.TotalErrors)
}

func TestSaveHealth_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveHealth(ctx, monitoring.Snapshot{
		State:            monitoring.StateDegraded,
		TotalErrors:      7,
		CriticalErrors:   2,
		RecoveryAttempts: 3,
	}))

	snap, err := store.LoadHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitoring.StateDegraded, snap.State)
	assert.Equal(t, int64(7), snap.TotalErrors)
	assert.Equal(t, int64(2), snap.CriticalErrors)
	assert.Equal(t, int64(3), snap.RecoveryAttempts)
}

func TestSaveHealth_Overwrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveHealth(ctx, monitoring.Snapshot{State: monitoring.StateCritical, TotalErrors: 5}))

	// an operator reset saves the same counters with a healthy state
	require.NoError(t, store.SaveHealth(ctx, monitoring.Snapshot{State: monitoring.StateHealthy, TotalErrors: 5}))

	snap, err := store.LoadHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitoring.StateHealthy, snap.State)
	assert.Equal(t, int64(5), snap.TotalErrors)
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestDeleteRecord(t *testing.T) {
	store := setupTestStore(t)
	record := createTestRecord(t, store)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, record.ID))

	_, err := store.Get(ctx, record.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRecord_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.Delete(context.Background(), "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)
}
