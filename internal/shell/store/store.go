package store

import (
	"context"

	"github.com/pakforge/pakd/internal/core/domain"
	"github.com/pakforge/pakd/internal/core/monitoring"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store persists deployment records. Update is atomic with respect to
// concurrent target jobs mutating the same record: implementations
// serialize read-modify-write cycles per record.
type Store interface {
	// Create persists a new deployment record.
	Create(ctx context.Context, record *domain.DeploymentRecord) error

	// Get returns a record by id.
	Get(ctx context.Context, id string) (*domain.DeploymentRecord, error)

	// Update applies mutator to the stored record under a per-record
	// exclusive lock and persists the result. The mutator's error aborts
	// the update.
	Update(ctx context.Context, id string, mutator func(*domain.DeploymentRecord) error) error

	// List returns records ordered by start time, newest first.
	List(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error)

	// Latest returns the most recently started record.
	Latest(ctx context.Context) (*domain.DeploymentRecord, error)

	// Delete removes a record.
	Delete(ctx context.Context, id string) error

	// SaveHealth persists the system health snapshot so state and counters
	// survive across invocations.
	SaveHealth(ctx context.Context, snap monitoring.Snapshot) error

	// LoadHealth returns the persisted health snapshot, or a healthy
	// zero-counter snapshot when none has been saved.
	LoadHealth(ctx context.Context) (monitoring.Snapshot, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
