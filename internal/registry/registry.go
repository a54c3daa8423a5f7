// Package registry loads and serves per-platform deployment configuration.
// Platform documents live as platforms/<name>.yaml under the config
// directory and are loaded once at process start; entries are read-only for
// the lifetime of all deployments in the process. Reload exists only as a
// recovery hook for configuration failures.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pakforge/pakd/internal/core/platform"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPlatformNotFound is returned when no config exists for a name.
	ErrPlatformNotFound = errors.New("platform not found")

	// ErrNoPlatforms is returned when the registry loads empty.
	ErrNoPlatforms = errors.New("no platforms configured")
)

// =============================================================================
// Built-in Platforms
// =============================================================================

// builtins are the platforms available without any on-disk configuration.
// A platforms/<name>.yaml document overrides the built-in of the same name.
var builtins = []platform.Config{
	{
		Name:           "npm",
		RegistryURL:    "https://registry.npmjs.org",
		HealthEndpoint: "https://registry.npmjs.org/-/ping",
		Procedures: platform.Procedures{
			Install:      "npm ci",
			Test:         "npm test",
			Build:        "npm run build --if-present",
			Publish:      "npm publish",
			VersionCheck: "npm view {package}@{version} version",
			Cleanup:      "npm cache clean --force",
		},
		RequiredFiles: []string{"package.json"},
		VersionFile:   "package.json",
	},
	{
		Name:           "pypi",
		RegistryURL:    "https://upload.pypi.org/legacy/",
		HealthEndpoint: "https://pypi.org/simple/",
		Procedures: platform.Procedures{
			Install:      "python -m pip install -e .",
			Test:         "python -m pytest",
			Build:        "python -m build",
			Publish:      "python -m twine upload dist/*",
			VersionCheck: "python -m pip index versions {package}",
			Cleanup:      "rm -rf build dist *.egg-info",
		},
		RequiredFiles: []string{"pyproject.toml"},
		VersionFile:   "pyproject.toml",
	},
	{
		Name:           "cargo",
		RegistryURL:    "https://crates.io",
		HealthEndpoint: "https://crates.io/api/v1/summary",
		Procedures: platform.Procedures{
			Test:         "cargo test",
			Build:        "cargo build --release",
			Publish:      "cargo publish",
			VersionCheck: "cargo search {package} --limit 1",
			Cleanup:      "cargo clean",
		},
		RequiredFiles: []string{"Cargo.toml"},
		VersionFile:   "Cargo.toml",
	},
	{
		Name:           "dockerhub",
		RegistryURL:    "https://index.docker.io",
		HealthEndpoint: "https://hub.docker.com/v2/",
		Procedures: platform.Procedures{
			Build:        "docker build -t {package}:{version} {directory}",
			Publish:      "docker push {package}:{version}",
			VersionCheck: "docker manifest inspect {package}:{version}",
			Cleanup:      "docker image prune -f",
		},
		RequiredFiles: []string{"Dockerfile"},
		SupportsRetag: true,
	},
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the process-wide lookup of platform configurations.
type Registry struct {
	dir string

	mu        sync.RWMutex
	platforms map[string]platform.Config
}

// Load creates a registry from the built-in platforms plus any
// platforms/<name>.yaml documents under dir. An empty dir loads built-ins
// only.
func Load(dir string) (*Registry, error) {
	r := &Registry{dir: dir}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// load reads all platform documents, replacing the current set.
func (r *Registry) load() error {
	platforms := make(map[string]platform.Config, len(builtins))
	for _, b := range builtins {
		platforms[b.Name] = b
	}

	if r.dir != "" {
		platformDir := filepath.Join(r.dir, "platforms")
		entries, err := os.ReadDir(platformDir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read platform dir: %w", err)
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
				continue
			}

			data, err := os.ReadFile(filepath.Join(platformDir, name))
			if err != nil {
				return fmt.Errorf("read platform config %s: %w", name, err)
			}
			cfg, err := platform.Parse(data)
			if err != nil {
				return fmt.Errorf("parse platform config %s: %w", name, err)
			}
			platforms[cfg.Name] = cfg
		}
	}

	if len(platforms) == 0 {
		return ErrNoPlatforms
	}

	r.mu.Lock()
	r.platforms = platforms
	r.mu.Unlock()
	return nil
}

// Get returns the config for a platform name.
func (r *Registry) Get(name string) (platform.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.platforms[name]
	if !ok {
		return platform.Config{}, fmt.Errorf("%w: %s", ErrPlatformNotFound, name)
	}
	return cfg, nil
}

// Names returns all configured platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps requested target names to configs, or the full configured
// set when no targets are requested.
func (r *Registry) Resolve(targets []string) ([]platform.Config, error) {
	if len(targets) == 0 {
		targets = r.Names()
	}

	configs := make([]platform.Config, 0, len(targets))
	for _, t := range targets {
		cfg, err := r.Get(t)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Reload re-reads platform documents from disk. This is the recovery hook
// for configuration errors; it is not part of normal operation.
func (r *Registry) Reload() error {
	return r.load()
}
