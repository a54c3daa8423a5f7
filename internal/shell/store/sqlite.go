package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pakforge/pakd/internal/core/domain"
	"github.com/pakforge/pakd/internal/core/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite. Concurrent target jobs within
// a run race to mutate the same record, so Update serializes mutation
// through a per-record lock on top of a transaction.
type SQLiteStore struct {
	db *sqlx.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// recordLock returns the mutex guarding one record's read-modify-write
// cycle.
func (s *SQLiteStore) recordLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// =============================================================================
// Row Mapping
// =============================================================================

// deploymentRow represents a deployment record row in the database.
type deploymentRow struct {
	ID          string  `db:"id"`
	Package     string  `db:"package"`
	Version     string  `db:"version"`
	Mode        string  `db:"mode"`
	DryRun      bool    `db:"dry_run"`
	TriggeredBy string  `db:"triggered_by"`
	Status      string  `db:"status"`
	Platforms   string  `db:"platforms"`
	Logs        *string `db:"logs"`
	StartedAt   string  `db:"started_at"`
	CompletedAt *string `db:"completed_at"`
}

func recordToRow(record *domain.DeploymentRecord) (map[string]any, error) {
	platformsJSON, err := json.Marshal(record.Platforms)
	if err != nil {
		return nil, err
	}
	logsJSON, err := json.Marshal(record.Logs)
	if err != nil {
		return nil, err
	}

	row := map[string]any{
		"id":           record.ID,
		"package":      record.Package,
		"version":      record.Version,
		"mode":         string(record.Mode),
		"dry_run":      record.DryRun,
		"triggered_by": record.TriggeredBy,
		"status":       string(record.Status),
		"platforms":    string(platformsJSON),
		"logs":         string(logsJSON),
		"started_at":   record.StartedAt.Format(time.RFC3339Nano),
		"completed_at": nil,
	}
	if record.CompletedAt != nil {
		row["completed_at"] = record.CompletedAt.Format(time.RFC3339Nano)
	}
	return row, nil
}

func rowToRecord(row *deploymentRow) (*domain.DeploymentRecord, error) {
	record := &domain.DeploymentRecord{
		ID:          row.ID,
		Package:     row.Package,
		Version:     row.Version,
		Mode:        domain.Mode(row.Mode),
		DryRun:      row.DryRun,
		TriggeredBy: row.TriggeredBy,
		Status:      domain.Status(row.Status),
	}

	if err := json.Unmarshal([]byte(row.Platforms), &record.Platforms); err != nil {
		return nil, err
	}
	if row.Logs != nil && *row.Logs != "" {
		if err := json.Unmarshal([]byte(*row.Logs), &record.Logs); err != nil {
			return nil, err
		}
	}

	startedAt, err := time.Parse(time.RFC3339Nano, row.StartedAt)
	if err != nil {
		return nil, err
	}
	record.StartedAt = startedAt

	if row.CompletedAt != nil && *row.CompletedAt != "" {
		completedAt, err := time.Parse(time.RFC3339Nano, *row.CompletedAt)
		if err != nil {
			return nil, err
		}
		record.CompletedAt = &completedAt
	}

	return record, nil
}

// =============================================================================
// Record Operations
// =============================================================================

func (s *SQLiteStore) Create(ctx context.Context, record *domain.DeploymentRecord) error {
	row, err := recordToRow(record)
	if err != nil {
		return NewStoreError("CreateRecord", record.ID, "failed to serialize record", ErrInvalidData)
	}

	query := `
		INSERT INTO deployments (
			id, package, version, mode, dry_run, triggered_by,
			status, platforms, logs, started_at, completed_at
		) VALUES (
			:id, :package, :version, :mode, :dry_run, :triggered_by,
			:status, :platforms, :logs, :started_at, :completed_at
		)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateRecord", record.ID, "record with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRecord", record.ID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	query := `SELECT * FROM deployments WHERE id = ?`

	var row deploymentRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRecord", id, "record not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRecord", id, err.Error(), err)
	}

	record, err := rowToRecord(&row)
	if err != nil {
		return nil, NewStoreError("GetRecord", id, "failed to deserialize record", ErrInvalidData)
	}
	return record, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, mutator func(*domain.DeploymentRecord) error) error {
	lock := s.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("UpdateRecord", id, "failed to begin transaction", ErrTxFailed)
	}
	defer tx.Rollback()

	var row deploymentRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewStoreError("UpdateRecord", id, "record not found", ErrNotFound)
		}
		return NewStoreError("UpdateRecord", id, err.Error(), err)
	}

	record, err := rowToRecord(&row)
	if err != nil {
		return NewStoreError("UpdateRecord", id, "failed to deserialize record", ErrInvalidData)
	}

	if err := mutator(record); err != nil {
		return err
	}

	updated, err := recordToRow(record)
	if err != nil {
		return NewStoreError("UpdateRecord", id, "failed to serialize record", ErrInvalidData)
	}

	query := `
		UPDATE deployments SET
			status = :status,
			platforms = :platforms,
			logs = :logs,
			completed_at = :completed_at
		WHERE id = :id`

	if _, err := tx.NamedExecContext(ctx, query, updated); err != nil {
		return NewStoreError("UpdateRecord", id, err.Error(), err)
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("UpdateRecord", id, "failed to commit transaction", ErrTxFailed)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments ORDER BY started_at DESC LIMIT ? OFFSET ?`

	var rows []deploymentRow
	if err := s.db.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListRecords", "", err.Error(), err)
	}

	records := make([]domain.DeploymentRecord, 0, len(rows))
	for i := range rows {
		record, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, NewStoreError("ListRecords", rows[i].ID, "failed to deserialize record", ErrInvalidData)
		}
		records = append(records, *record)
	}
	return records, nil
}

func (s *SQLiteStore) Latest(ctx context.Context) (*domain.DeploymentRecord, error) {
	query := `SELECT * FROM deployments ORDER BY started_at DESC LIMIT 1`

	var row deploymentRow
	if err := s.db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestRecord", "", "no deployments recorded", ErrNotFound)
		}
		return nil, NewStoreError("LatestRecord", "", err.Error(), err)
	}

	record, err := rowToRecord(&row)
	if err != nil {
		return nil, NewStoreError("LatestRecord", row.ID, "failed to deserialize record", ErrInvalidData)
	}
	return record, nil
}

// =============================================================================
// Health Snapshot
// =============================================================================

// healthRow represents the single persisted health snapshot row.
type healthRow struct {
	State            string `db:"state"`
	TotalErrors      int64  `db:"total_errors"`
	CriticalErrors   int64  `db:"critical_errors"`
	RecoveryAttempts int64  `db:"recovery_attempts"`
}

func (s *SQLiteStore) SaveHealth(ctx context.Context, snap monitoring.Snapshot) error {
	query := `
		INSERT INTO health (id, state, total_errors, critical_errors, recovery_attempts, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			total_errors = excluded.total_errors,
			critical_errors = excluded.critical_errors,
			recovery_attempts = excluded.recovery_attempts,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		string(snap.State), snap.TotalErrors, snap.CriticalErrors, snap.RecoveryAttempts,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return NewStoreError("SaveHealth", "", err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) LoadHealth(ctx context.Context) (monitoring.Snapshot, error) {
	var row healthRow
	err := s.db.GetContext(ctx, &row,
		`SELECT state, total_errors, critical_errors, recovery_attempts FROM health WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return monitoring.Snapshot{State: monitoring.StateHealthy}, nil
		}
		return monitoring.Snapshot{}, NewStoreError("LoadHealth", "", err.Error(), err)
	}

	return monitoring.Snapshot{
		State:            monitoring.HealthState(row.State),
		TotalErrors:      row.TotalErrors,
		CriticalErrors:   row.CriticalErrors,
		RecoveryAttempts: row.RecoveryAttempts,
	}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteRecord", id, err.Error(), err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return NewStoreError("DeleteRecord", id, "record not found", ErrNotFound)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}
