package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pakforge/pakd/internal/core/monitoring"
	"github.com/pakforge/pakd/internal/registry"
	"github.com/pakforge/pakd/internal/shell/adapter"
	"github.com/pakforge/pakd/internal/shell/healthgate"
	"github.com/pakforge/pakd/internal/shell/notify"
	"github.com/pakforge/pakd/internal/shell/store"
)

// errConfig wraps configuration-stage failures so run() can map them to the
// config exit code.
var errConfig = errors.New("invalid configuration")

// app holds the wired collaborators shared by all commands. The store is
// opened lazily because not every command touches deployment records.
type app struct {
	cfg      *Config
	logger   *slog.Logger
	registry *registry.Registry
	monitor  *monitoring.Monitor
	gate     *healthgate.Gate
	notifier notify.Notifier
	runner   adapter.Runner

	recordStore store.Store
}

// init loads configuration and wires the process-wide collaborators.
func (a *app) init(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg)

	reg, err := registry.Load(cfg.Registry.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	a.registry = reg

	a.monitor = monitoring.NewMonitor()
	a.gate = healthgate.New(cfg.Health.ProbeTimeout, a.logger)
	a.runner = adapter.NewShellRunner(a.logger)

	if cfg.Notify.URL != "" {
		a.notifier = notify.NewWebhook(notify.Config{
			URL:     cfg.Notify.URL,
			Secret:  cfg.Notify.Secret,
			Timeout: cfg.Notify.Timeout,
		}, a.logger)
	} else {
		a.notifier = notify.Nop{}
	}

	return nil
}

// store opens the record store on first use.
func (a *app) store() (store.Store, error) {
	if a.recordStore != nil {
		return a.recordStore, nil
	}

	dsn := a.cfg.Database.DSN
	if dir := filepath.Dir(dsn); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		return nil, err
	}
	a.recordStore = s
	return s, nil
}

func (a *app) close() {
	if a.recordStore != nil {
		a.recordStore.Close()
		a.recordStore = nil
	}
}
