// Package engine orchestrates multi-target deployment runs: health gating,
// bounded-concurrency dispatch to platform adapters, failure classification,
// bounded recovery, and record bookkeeping.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pakforge/pakd/internal/core/domain"
	"github.com/pakforge/pakd/internal/core/faults"
	"github.com/pakforge/pakd/internal/core/monitoring"
	"github.com/pakforge/pakd/internal/core/platform"
	"github.com/pakforge/pakd/internal/registry"
	"github.com/pakforge/pakd/internal/shell/adapter"
	"github.com/pakforge/pakd/internal/shell/healthgate"
	"github.com/pakforge/pakd/internal/shell/notify"
	"github.com/pakforge/pakd/internal/shell/store"
)

// =============================================================================
// Options
// =============================================================================

const (
	DefaultMaxParallel      = 4
	DefaultPerTargetTimeout = 10 * time.Minute
)

// Options controls scheduling and safety for one deployment run.
type Options struct {
	Mode             domain.Mode
	MaxParallel      int
	PerTargetTimeout time.Duration
	RunTimeout       time.Duration
	DryRun           bool
	Force            bool
}

func (o Options) normalized() Options {
	if o.Mode == "" {
		o.Mode = domain.ModeParallel
	}
	if o.MaxParallel < 1 {
		o.MaxParallel = DefaultMaxParallel
	}
	if o.Mode == domain.ModeSequential {
		o.MaxParallel = 1
	}
	if o.PerTargetTimeout <= 0 {
		o.PerTargetTimeout = DefaultPerTargetTimeout
	}
	return o
}

// Request describes one deploy invocation.
type Request struct {
	Package     string
	Version     string
	Directory   string
	Targets     []string
	TriggeredBy string
	Options     Options
}

// =============================================================================
// Coordinator
// =============================================================================

// HealthGate admits targets into a run.
type HealthGate interface {
	Check(ctx context.Context, cfg platform.Config) healthgate.Status
}

// AdapterFactory builds the adapter for a platform config.
type AdapterFactory func(cfg platform.Config) (adapter.Adapter, error)

// Registry is the subset of the platform registry the coordinator needs.
type Registry interface {
	Get(name string) (platform.Config, error)
	Resolve(targets []string) ([]platform.Config, error)
	Reload() error
}

// Coordinator runs deployments. One Deploy call per request; target jobs
// run as goroutines bounded by a semaphore of size MaxParallel.
type Coordinator struct {
	registry      Registry
	store         store.Store
	gate          HealthGate
	adapters      AdapterFactory
	notifier      notify.Notifier
	monitor       *monitoring.Monitor
	logger        *slog.Logger
	version       string
	recoveryLimit int
}

// Config holds coordinator construction parameters.
type Config struct {
	// RecoveryLimit bounds automatic recovery attempts per run.
	// Default: 3.
	RecoveryLimit int

	// Version is the tool version reported in notification payloads.
	Version string
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(
	reg Registry,
	st store.Store,
	gate HealthGate,
	adapters AdapterFactory,
	notifier notify.Notifier,
	monitor *monitoring.Monitor,
	logger *slog.Logger,
	cfg Config,
) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if monitor == nil {
		monitor = monitoring.NewMonitor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecoveryLimit <= 0 {
		cfg.RecoveryLimit = DefaultRecoveryLimit
	}

	return &Coordinator{
		registry:      reg,
		store:         st,
		gate:          gate,
		adapters:      adapters,
		notifier:      notifier,
		monitor:       monitor,
		logger:        logger.With("component", "coordinator"),
		version:       cfg.Version,
		recoveryLimit: cfg.RecoveryLimit,
	}
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy runs one deployment across the requested targets and returns the
// finalized record. The returned error covers orchestration failures only;
// per-target failures are reported through the record's aggregate status.
func (c *Coordinator) Deploy(ctx context.Context, req Request) (*domain.DeploymentRecord, error) {
	opts := req.Options.normalized()

	configs, err := c.registry.Resolve(dedupe(req.Targets))
	if err != nil {
		return nil, err
	}

	names := make([]string, len(configs))
	for i, cfg := range configs {
		names[i] = cfg.Name
	}

	record, err := domain.NewDeploymentRecord(req.Package, req.Version, names, opts.Mode, opts.DryRun, req.TriggeredBy)
	if err != nil {
		return nil, err
	}
	record.AppendLog("info", "", fmt.Sprintf("deploying %s@%s to %d target(s)", req.Package, req.Version, len(names)))

	if err := c.store.Create(ctx, record); err != nil {
		return nil, err
	}

	logger := c.logger.With("deployment_id", record.ID, "package", req.Package, "version", req.Version)
	logger.Info("deployment started",
		"targets", names,
		"mode", opts.Mode,
		"max_parallel", opts.MaxParallel,
		"dry_run", opts.DryRun,
	)

	// Jobs and probes run under the run context so a deployment-wide
	// timeout aborts them; record bookkeeping stays on the caller context
	// so terminal statuses are still persisted after a timeout.
	runCtx := ctx
	if opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.RunTimeout)
		defer cancel()
	}

	budget := newRecoveryBudget(c.recoveryLimit, func() {
		c.monitor.MarkDegraded()
		logger.Warn("recovery budget exhausted, degrading and surfacing further errors")
	})

	if opts.Mode == domain.ModeSequential {
		for _, cfg := range configs {
			if runCtx.Err() != nil {
				c.updatePlatform(ctx, record.ID, cfg.Name, domain.PlatformFailed,
					fmt.Sprintf("deployment aborted: %v", runCtx.Err()))
				continue
			}
			c.runTarget(runCtx, ctx, record.ID, cfg, req, opts, budget)
		}
	} else {
		sem := make(chan struct{}, opts.MaxParallel)
		var wg sync.WaitGroup
		for _, cfg := range configs {
			wg.Add(1)
			go func(cfg platform.Config) {
				defer wg.Done()

				select {
				case <-runCtx.Done():
					c.updatePlatform(ctx, record.ID, cfg.Name, domain.PlatformFailed,
						fmt.Sprintf("deployment aborted: %v", runCtx.Err()))
					return
				case sem <- struct{}{}:
					defer func() { <-sem }()
				}

				c.runTarget(runCtx, ctx, record.ID, cfg, req, opts, budget)
			}(cfg)
		}
		wg.Wait()
	}

	if err := c.store.Update(ctx, record.ID, func(r *domain.DeploymentRecord) error {
		return r.Finalize()
	}); err != nil {
		return nil, err
	}

	final, err := c.store.Get(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	logger.Info("deployment finished",
		"status", final.Status,
		"failed_targets", final.FailedPlatforms(),
		"recovery_attempts", budget.Used(),
	)
	return final, nil
}

// =============================================================================
// Target Jobs
// =============================================================================

// runTarget drives one target from health gate through adapter invocation
// and recovery to a terminal platform status. Failures here never abort
// other targets.
func (c *Coordinator) runTarget(
	runCtx, storeCtx context.Context,
	recordID string,
	cfg platform.Config,
	req Request,
	opts Options,
	budget *recoveryBudget,
) {
	logger := c.logger.With("deployment_id", recordID, "platform", cfg.Name)

	gs := c.gate.Check(runCtx, cfg)
	if !gs.Healthy {
		if !opts.Force {
			logger.Warn("target unhealthy, skipping", "reason", gs.Reason)
			c.updatePlatform(storeCtx, recordID, cfg.Name, domain.PlatformSkipped, gs.Reason)
			return
		}
		logger.Warn("target unhealthy, forcing past health gate", "reason", gs.Reason)
	}

	c.updatePlatform(storeCtx, recordID, cfg.Name, domain.PlatformInProgress, "deploying")

	ad, err := c.adapters(cfg)
	if err != nil {
		ev := faults.NewEvent(faults.ConfigError, err.Error())
		c.monitor.RecordError(ev)
		c.updatePlatform(storeCtx, recordID, cfg.Name, domain.PlatformFailed, err.Error())
		c.notifyEvent(storeCtx, ev)
		return
	}

	job := adapter.Job{
		Package:   req.Package,
		Version:   req.Version,
		Directory: req.Directory,
		Force:     opts.Force,
		DryRun:    opts.DryRun,
	}

	attempt := 0
	for {
		attempt++
		c.recordAttempt(storeCtx, recordID, cfg.Name)

		res := c.invoke(runCtx, ad, job, opts.PerTargetTimeout)
		if res.Success {
			logger.Info("target completed", "attempts", attempt)
			c.updatePlatform(storeCtx, recordID, cfg.Name, domain.PlatformCompleted, res.Message)
			return
		}

		ev := faults.Classify(faults.Signal{
			ExitCode:  res.ExitCode,
			Operation: res.Operation,
			Message:   res.Message,
		})
		c.monitor.RecordError(ev)
		logger.Warn("target attempt failed",
			"attempt", attempt,
			"operation", res.Operation,
			"error_type", ev.Type,
			"severity", ev.Severity,
		)

		policy := policyFor(ev.Type)
		if !ev.Recoverable || attempt > policy.MaxRetries || runCtx.Err() != nil || !budget.Take() {
			c.updatePlatform(storeCtx, recordID, cfg.Name, domain.PlatformFailed, res.Message)
			c.notifyEvent(storeCtx, ev)
			return
		}

		c.monitor.RecordRecoveryAttempt()
		ad = c.applyRecovery(runCtx, policy, ev, ad, cfg, job, logger)

		delay := backoffDelay(policy, attempt)
		logger.Info("retrying target", "error_type", ev.Type, "delay", delay)
		if err := sleepCtx(runCtx, delay); err != nil {
			c.updatePlatform(storeCtx, recordID, cfg.Name, domain.PlatformFailed,
				fmt.Sprintf("deployment aborted during backoff: %v", err))
			return
		}
	}
}

// invoke runs one adapter deploy attempt under the per-target timeout.
func (c *Coordinator) invoke(ctx context.Context, ad adapter.Adapter, job adapter.Job, timeout time.Duration) adapter.Result {
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := ad.Deploy(jobCtx, job)
	if !res.Success && jobCtx.Err() != nil && res.Message == "" {
		res.Message = fmt.Sprintf("target timed out after %s", timeout)
		res.Operation = "deploy"
	}
	return res
}

// applyRecovery performs the recovery strategy's side effect before a
// retry, returning the (possibly reinitialized) adapter.
func (c *Coordinator) applyRecovery(
	ctx context.Context,
	policy recoveryPolicy,
	ev faults.Event,
	ad adapter.Adapter,
	cfg platform.Config,
	job adapter.Job,
	logger *slog.Logger,
) adapter.Adapter {
	switch policy.Action {
	case actionCleanup:
		if err := ad.Cleanup(ctx, job); err != nil {
			logger.Warn("cleanup before retry failed", "error", err)
		}

	case actionReloadConfig:
		if err := c.registry.Reload(); err != nil {
			logger.Warn("config reload failed", "error", err)
			break
		}
		fresh, err := c.registry.Get(cfg.Name)
		if err != nil {
			logger.Warn("platform missing after reload", "error", err)
			break
		}
		if rebuilt, err := c.adapters(fresh); err == nil {
			return rebuilt
		}

	case actionReinitAdapter:
		if rebuilt, err := c.adapters(cfg); err == nil {
			return rebuilt
		}
		logger.Warn("adapter reinit failed, retrying with existing adapter", "error_type", ev.Type)
	}
	return ad
}

// =============================================================================
// Bookkeeping
// =============================================================================

// updatePlatform transitions one target's status in the stored record.
func (c *Coordinator) updatePlatform(ctx context.Context, recordID, name string, to domain.PlatformState, message string) {
	err := c.store.Update(ctx, recordID, func(r *domain.DeploymentRecord) error {
		return r.SetPlatformStatus(name, to, message)
	})
	if err != nil {
		c.logger.Error("failed to update platform status",
			"deployment_id", recordID,
			"platform", name,
			"status", to,
			"error", err,
		)
	}
}

func (c *Coordinator) recordAttempt(ctx context.Context, recordID, name string) {
	err := c.store.Update(ctx, recordID, func(r *domain.DeploymentRecord) error {
		r.RecordAttempt(name)
		return nil
	})
	if err != nil {
		c.logger.Error("failed to record attempt", "deployment_id", recordID, "platform", name, "error", err)
	}
}

// notifyEvent forwards terminal high-severity events to the notifier.
func (c *Coordinator) notifyEvent(ctx context.Context, ev faults.Event) {
	switch ev.Severity {
	case faults.SeverityHigh, faults.SeverityCritical:
		c.notifier.Notify(ctx, notify.NewPayload(ev, c.monitor.Snapshot(), c.version))
	}
}

// =============================================================================
// Helpers
// =============================================================================

// NewAdapterFactory returns the default factory running real registry CLIs.
func NewAdapterFactory(runner adapter.Runner, logger *slog.Logger) AdapterFactory {
	return func(cfg platform.Config) (adapter.Adapter, error) {
		return adapter.New(cfg, runner, logger)
	}
}

// dedupe removes duplicate target names, preserving order.
func dedupe(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// compile-time check that the concrete registry satisfies the interface.
var _ Registry = (*registry.Registry)(nil)
