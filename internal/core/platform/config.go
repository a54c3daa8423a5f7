// Package platform contains pure functions for parsing and validating
// per-platform deployment configuration documents. This is part of the
// functional core - no I/O, no side effects.
package platform

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput  = errors.New("platform config is empty")
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Field validation errors
	ErrMissingName        = errors.New("platform config must have a name")
	ErrMissingRegistryURL = errors.New("platform config must have a registry_url")
	ErrMissingPublish     = errors.New("platform config must define a publish procedure")
	ErrInvalidEndpoint    = errors.New("invalid health_endpoint URL")
	ErrInvalidRegistryURL = errors.New("invalid registry_url")
)

// ConfigError wraps errors with context about which field failed validation.
type ConfigError struct {
	Platform string
	Field    string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Platform != "" {
		return fmt.Sprintf("platform %q: %s: %v", e.Platform, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Config
// =============================================================================

// Procedures holds the command templates for each deployment step. Commands
// may reference {package}, {version}, {registry}, and {directory}
// placeholders, expanded by the adapter at execution time. Empty steps are
// skipped.
type Procedures struct {
	Install      string `yaml:"install"`
	Test         string `yaml:"test"`
	Build        string `yaml:"build"`
	Publish      string `yaml:"publish"`
	Verify       string `yaml:"verify"`
	VersionCheck string `yaml:"version_check"`
	Cleanup      string `yaml:"cleanup"`
}

// Config is the immutable declarative description of one publishing target.
type Config struct {
	Name           string     `yaml:"name"`
	RegistryURL    string     `yaml:"registry_url"`
	HealthEndpoint string     `yaml:"health_endpoint"`
	Procedures     Procedures `yaml:"procedures"`
	RequiredFiles  []string   `yaml:"required_files"`
	OptionalFiles  []string   `yaml:"optional_files"`
	VersionFile    string     `yaml:"version_file"`
	PublishFlags   []string   `yaml:"publish_flags"`
	SupportsRetag  bool       `yaml:"supports_retag"`
}

// =============================================================================
// Parsing
// =============================================================================

// Parse parses a platform config document from raw YAML.
// This is a pure function - no I/O, no side effects.
func Parse(data []byte) (Config, error) {
	if strings.TrimSpace(string(data)) == "" {
		return Config{}, ErrEmptyInput
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the config has all required fields and that URLs are
// well formed.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Field: "name", Err: ErrMissingName}
	}
	if strings.TrimSpace(c.RegistryURL) == "" {
		return &ConfigError{Platform: c.Name, Field: "registry_url", Err: ErrMissingRegistryURL}
	}
	if _, err := url.ParseRequestURI(c.RegistryURL); err != nil {
		return &ConfigError{Platform: c.Name, Field: "registry_url", Err: ErrInvalidRegistryURL}
	}
	if strings.TrimSpace(c.Procedures.Publish) == "" {
		return &ConfigError{Platform: c.Name, Field: "procedures.publish", Err: ErrMissingPublish}
	}
	if c.HealthEndpoint != "" {
		u, err := url.Parse(c.HealthEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Platform: c.Name, Field: "health_endpoint", Err: ErrInvalidEndpoint}
		}
	}
	return nil
}
