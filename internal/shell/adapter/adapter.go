// Package adapter implements per-platform publish procedures.
// This is part of the imperative shell - adapters run registry CLIs as
// subprocesses. The coordinator treats adapters as opaque: only the timeout,
// the idempotency of the version-exists check, and the meaning of force are
// part of the contract.
package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pakforge/pakd/internal/core/platform"
)

// =============================================================================
// Contract Types
// =============================================================================

// Job describes one target deployment handed to an adapter.
type Job struct {
	Package   string
	Version   string
	Directory string
	Force     bool
	DryRun    bool
}

// Result is the outcome of an adapter operation. ExitCode and Operation
// carry the raw failure signal for classification; both are zero-valued on
// success.
type Result struct {
	Success   bool
	Message   string
	ExitCode  int
	Operation string
}

// Adapter performs build, test, publish, and verification for one target.
type Adapter interface {
	// Name returns the platform name this adapter serves.
	Name() string

	// Deploy runs the full publish procedure for a job. The version-exists
	// check is skipped when the job has Force set; DryRun simulates all
	// side-effecting steps.
	Deploy(ctx context.Context, job Job) Result

	// VersionExists reports whether the version is already published.
	// The check is idempotent and has no side effects.
	VersionExists(ctx context.Context, pkg, version string) (bool, error)

	// Rollback restores previousVersion as current. Registries without an
	// unpublish or retag primitive return Success=false with operator
	// instructions.
	Rollback(ctx context.Context, pkg, previousVersion string) Result

	// Cleanup clears transient caches and partial artifacts left by a
	// failed attempt.
	Cleanup(ctx context.Context, job Job) error
}

// =============================================================================
// Factory
// =============================================================================

// New creates the adapter for a platform config. Platforms whose registry
// supports retagging get the retag-capable adapter; everything else runs
// the generic exec adapter driven by the config's procedures.
func New(cfg platform.Config, runner Runner, logger *slog.Logger) (Adapter, error) {
	if runner == nil {
		runner = NewShellRunner(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "adapter", "platform", cfg.Name)

	if cfg.Procedures.Publish == "" {
		return nil, fmt.Errorf("platform %q has no publish procedure", cfg.Name)
	}

	base := &execAdapter{cfg: cfg, runner: runner, logger: logger}
	if cfg.SupportsRetag {
		return &retagAdapter{execAdapter: base}, nil
	}
	return base, nil
}
