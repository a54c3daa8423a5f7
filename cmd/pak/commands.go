package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pakforge/pakd/internal/core/domain"
	"github.com/pakforge/pakd/internal/core/monitoring"
	"github.com/pakforge/pakd/internal/engine"
	"github.com/pakforge/pakd/internal/shell/adapter"
	"github.com/pakforge/pakd/internal/shell/store"
)

// =============================================================================
// deploy
// =============================================================================

func newDeployCmd(a *app) *cobra.Command {
	var (
		sequential  bool
		maxParallel int
		timeout     time.Duration
		runTimeout  time.Duration
		dryRun      bool
		force       bool
		directory   string
	)

	cmd := &cobra.Command{
		Use:   "deploy <package> <version> [targets...]",
		Short: "Deploy a package version to one or more platforms",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}

			// Health state carries across invocations through the store.
			health, err := st.LoadHealth(cmd.Context())
			if err != nil {
				return err
			}
			a.monitor.Restore(health)

			targets := args[2:]
			if len(targets) == 0 {
				targets = a.cfg.Registry.DefaultTargets
			}

			mode := domain.ModeParallel
			if sequential {
				mode = domain.ModeSequential
			}
			if maxParallel <= 0 {
				maxParallel = a.cfg.Deploy.MaxParallel
			}
			if timeout <= 0 {
				timeout = a.cfg.Deploy.PerTargetTimeout
			}
			if runTimeout <= 0 {
				runTimeout = a.cfg.Deploy.RunTimeout
			}
			if directory == "" {
				directory, _ = os.Getwd()
			}

			coord := engine.NewCoordinator(
				a.registry,
				st,
				a.gate,
				engine.NewAdapterFactory(a.runner, a.logger),
				a.notifier,
				a.monitor,
				a.logger,
				engine.Config{
					RecoveryLimit: a.cfg.Deploy.RecoveryLimit,
					Version:       Version,
				},
			)

			record, err := coord.Deploy(cmd.Context(), engine.Request{
				Package:     args[0],
				Version:     args[1],
				Directory:   directory,
				Targets:     targets,
				TriggeredBy: os.Getenv("USER"),
				Options: engine.Options{
					Mode:             mode,
					MaxParallel:      maxParallel,
					PerTargetTimeout: timeout,
					RunTimeout:       runTimeout,
					DryRun:           dryRun,
					Force:            force,
				},
			})
			if err != nil {
				return err
			}

			if err := st.SaveHealth(cmd.Context(), a.monitor.Snapshot()); err != nil {
				a.logger.Warn("failed to persist health state", "error", err)
			}

			printDeploySummary(record)
			if record.Status != domain.StatusCompleted {
				return errDeployFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sequential, "sequential", false, "deploy targets one at a time")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "maximum concurrent target deployments")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-target timeout")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 0, "deployment-wide timeout (0 disables)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate all side-effecting steps")
	cmd.Flags().BoolVar(&force, "force", false, "bypass health gate and version-exists checks")
	cmd.Flags().StringVar(&directory, "dir", "", "package directory (defaults to the working directory)")
	return cmd
}

// printDeploySummary renders the per-target outcome table plus remediation
// hints for failed targets.
func printDeploySummary(record *domain.DeploymentRecord) {
	fmt.Printf("\nDeployment %s: %s@%s -> %s\n\n", record.ID, record.Package, record.Version, record.Status)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Platform", "Status", "Attempts", "Message"})
	for _, name := range sortedPlatforms(record.Platforms) {
		s := record.Platforms[name]
		tw.AppendRow(table.Row{name, s.Status, s.Attempts, s.Message})
	}
	tw.Render()

	onlyVersionExists := true
	failed := record.FailedPlatforms()
	for _, name := range failed {
		if !strings.Contains(record.Platforms[name].Message, "already exists") {
			onlyVersionExists = false
		}
	}
	if len(failed) > 0 && onlyVersionExists {
		fmt.Println("\nhint: every failure is a version conflict; re-run with --force to republish")
	}
}

func sortedPlatforms(platforms map[string]domain.PlatformStatus) []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// status
// =============================================================================

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [deployment-id]",
		Short: "Show a deployment record (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}

			var record *domain.DeploymentRecord
			if len(args) == 1 {
				record, err = st.Get(cmd.Context(), args[0])
			} else {
				record, err = st.Latest(cmd.Context())
			}
			if err != nil {
				return err
			}

			printDeploySummary(record)
			if len(record.Logs) > 0 {
				fmt.Println("\nLog:")
				for _, entry := range record.Logs {
					platform := entry.Platform
					if platform == "" {
						platform = "-"
					}
					fmt.Printf("  %s  %-5s  %-12s  %s\n",
						entry.Timestamp.Format(time.RFC3339), entry.Level, platform, entry.Message)
				}
			}
			return nil
		},
	}
}

// =============================================================================
// history
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}

			records, err := st.List(cmd.Context(), store.ListOptions{Limit: limit})
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Package", "Version", "Status", "Started", "Targets"})
			for _, r := range records {
				tw.AppendRow(table.Row{
					r.ID, r.Package, r.Version, r.Status,
					r.StartedAt.Format(time.RFC3339),
					strings.Join(sortedPlatforms(r.Platforms), ","),
				})
			}
			tw.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to list")
	return cmd
}

// =============================================================================
// rollback
// =============================================================================

func newRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <platform> <package> <previous-version>",
		Short: "Restore a previous version as current on one platform",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.registry.Get(args[0])
			if err != nil {
				return err
			}

			ad, err := adapter.New(cfg, a.runner, a.logger)
			if err != nil {
				return err
			}

			res := ad.Rollback(cmd.Context(), args[1], args[2])
			fmt.Println(res.Message)
			if !res.Success {
				return errRollbackFailed
			}
			return nil
		},
	}
}

// =============================================================================
// platforms
// =============================================================================

func newPlatformsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List configured platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Registry", "Health Endpoint", "Retag"})
			for _, name := range a.registry.Names() {
				cfg, err := a.registry.Get(name)
				if err != nil {
					return err
				}
				tw.AppendRow(table.Row{cfg.Name, cfg.RegistryURL, cfg.HealthEndpoint, cfg.SupportsRetag})
			}
			tw.Render()
			return nil
		},
	}
}

// =============================================================================
// health
// =============================================================================

func newHealthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show system health state and error counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			snap, err := st.LoadHealth(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("state:             %s\n", snap.State)
			fmt.Printf("total errors:      %d\n", snap.TotalErrors)
			fmt.Printf("critical errors:   %d\n", snap.CriticalErrors)
			fmt.Printf("recovery attempts: %d\n", snap.RecoveryAttempts)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset the health state to healthy (operator action)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			snap, err := st.LoadHealth(cmd.Context())
			if err != nil {
				return err
			}

			// Reset clears the state only; the error counters are monotonic.
			snap.State = monitoring.StateHealthy
			if err := st.SaveHealth(cmd.Context(), snap); err != nil {
				return err
			}
			a.monitor.Reset()
			fmt.Println("health state reset to healthy")
			return nil
		},
	})
	return cmd
}
