package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pakforge/pakd/internal/core/platform"
)

// =============================================================================
// Runner
// =============================================================================

// Runner executes one shell command in a working directory and returns its
// combined output and exit code. Abstracted so adapter behavior can be
// tested without real registry CLIs.
type Runner interface {
	Run(ctx context.Context, dir, command string) (output string, exitCode int, err error)
}

// shellRunner runs commands through sh -c.
type shellRunner struct {
	logger *slog.Logger
}

// NewShellRunner creates the default subprocess-backed runner.
func NewShellRunner(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &shellRunner{logger: logger.With("component", "runner")}
}

func (r *shellRunner) Run(ctx context.Context, dir, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		// Prefer the context error so timeouts classify as timeouts rather
		// than as whatever signal the killed process died with.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		r.logger.Debug("command failed", "command", command, "exit_code", exitCode, "error", err)
		return output, exitCode, err
	}

	return output, 0, nil
}

// =============================================================================
// Command Expansion
// =============================================================================

// expandCommand substitutes job placeholders into a procedure template.
func expandCommand(tmpl string, job Job, registryURL string) string {
	replacer := strings.NewReplacer(
		"{package}", job.Package,
		"{version}", job.Version,
		"{directory}", job.Directory,
		"{registry}", registryURL,
	)
	return replacer.Replace(tmpl)
}

// =============================================================================
// Exec Adapter
// =============================================================================

// execAdapter runs the publish procedure declared in a platform config.
type execAdapter struct {
	cfg    platform.Config
	runner Runner
	logger *slog.Logger
}

func (a *execAdapter) Name() string {
	return a.cfg.Name
}

// step is one named stage of the deploy pipeline.
type step struct {
	name    string
	command string
}

// steps assembles the pipeline in execution order, skipping empty
// procedures. Publish flags are appended to the publish command.
func (a *execAdapter) steps(job Job) []step {
	publish := a.cfg.Procedures.Publish
	if len(a.cfg.PublishFlags) > 0 {
		publish = publish + " " + strings.Join(a.cfg.PublishFlags, " ")
	}

	all := []step{
		{"install", a.cfg.Procedures.Install},
		{"test", a.cfg.Procedures.Test},
		{"build", a.cfg.Procedures.Build},
		{"publish", publish},
		{"verify", a.cfg.Procedures.Verify},
	}

	var out []step
	for _, s := range all {
		if strings.TrimSpace(s.command) != "" {
			s.command = expandCommand(s.command, job, a.cfg.RegistryURL)
			out = append(out, s)
		}
	}
	return out
}

func (a *execAdapter) Deploy(ctx context.Context, job Job) Result {
	// A dry run succeeds for every admitted target. Preflight problems are
	// logged but do not fail the simulation.
	if job.DryRun {
		if msg := a.checkRequiredFiles(job); msg != "" {
			a.logger.Warn("dry run: preflight would fail", "reason", msg)
		}
		a.logger.Info("dry run: simulating publish procedure",
			"package", job.Package,
			"version", job.Version,
		)
		return Result{Success: true, Message: "dry run: all steps simulated"}
	}

	if msg := a.checkRequiredFiles(job); msg != "" {
		return Result{Success: false, Message: msg, Operation: "preflight"}
	}

	if !job.Force {
		exists, err := a.VersionExists(ctx, job.Package, job.Version)
		if err != nil {
			a.logger.Warn("version check failed, continuing", "error", err)
		} else if exists {
			return Result{
				Success:   false,
				Message:   fmt.Sprintf("version %s already exists on %s", job.Version, a.cfg.Name),
				Operation: "version_check",
			}
		}
	}

	for _, s := range a.steps(job) {
		a.logger.Info("running step", "step", s.name)
		output, exitCode, err := a.runner.Run(ctx, job.Directory, s.command)
		if err != nil {
			msg := output
			if msg == "" {
				msg = err.Error()
			}
			return Result{
				Success:   false,
				Message:   msg,
				ExitCode:  exitCode,
				Operation: s.name,
			}
		}
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("published %s@%s to %s", job.Package, job.Version, a.cfg.Name),
	}
}

// checkRequiredFiles verifies the platform's required files are present in
// the job directory. Returns an empty string when the check passes.
func (a *execAdapter) checkRequiredFiles(job Job) string {
	if job.Directory == "" {
		return ""
	}
	var missing []string
	for _, f := range a.cfg.RequiredFiles {
		if _, err := os.Stat(filepath.Join(job.Directory, f)); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("missing required files: %s", strings.Join(missing, ", "))
	}
	return ""
}

func (a *execAdapter) VersionExists(ctx context.Context, pkg, version string) (bool, error) {
	if a.cfg.Procedures.VersionCheck == "" {
		return false, nil
	}

	cmd := expandCommand(a.cfg.Procedures.VersionCheck, Job{Package: pkg, Version: version}, a.cfg.RegistryURL)
	output, _, err := a.runner.Run(ctx, "", cmd)
	if err != nil {
		// Registries report unknown versions as command failure.
		return false, nil
	}
	return strings.TrimSpace(output) != "", nil
}

func (a *execAdapter) Rollback(ctx context.Context, pkg, previousVersion string) Result {
	return Result{
		Success: false,
		Message: fmt.Sprintf(
			"%s does not support unpublish or retagging; publish a new release from %s@%s manually",
			a.cfg.Name, pkg, previousVersion,
		),
		Operation: "rollback",
	}
}

func (a *execAdapter) Cleanup(ctx context.Context, job Job) error {
	if strings.TrimSpace(a.cfg.Procedures.Cleanup) == "" {
		return nil
	}
	cmd := expandCommand(a.cfg.Procedures.Cleanup, job, a.cfg.RegistryURL)
	if _, _, err := a.runner.Run(ctx, job.Directory, cmd); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}
