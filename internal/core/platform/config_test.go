package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const validConfigYAML = `
name: npm
registry_url: https://registry.npmjs.org
health_endpoint: https://registry.npmjs.org/-/ping
procedures:
  install: npm ci
  test: npm test
  publish: npm publish
  version_check: npm view {package}@{version} version
  cleanup: npm cache clean --force
required_files:
  - package.json
publish_flags:
  - --access=public
`

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "npm", cfg.Name)
	assert.Equal(t, "https://registry.npmjs.org", cfg.RegistryURL)
	assert.Equal(t, "npm ci", cfg.Procedures.Install)
	assert.Equal(t, "npm publish", cfg.Procedures.Publish)
	assert.Equal(t, "npm view {package}@{version} version", cfg.Procedures.VersionCheck)
	assert.Equal(t, "npm cache clean --force", cfg.Procedures.Cleanup)
	assert.Equal(t, []string{"package.json"}, cfg.RequiredFiles)
	assert.Equal(t, []string{"--access=public"}, cfg.PublishFlags)
	assert.False(t, cfg.SupportsRetag)
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse([]byte("   \n"))
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected error
	}{
		{
			name:     "missing name",
			yaml:     "registry_url: https://example.com\nprocedures:\n  publish: x",
			expected: ErrMissingName,
		},
		{
			name:     "missing registry_url",
			yaml:     "name: npm\nprocedures:\n  publish: x",
			expected: ErrMissingRegistryURL,
		},
		{
			name:     "missing publish procedure",
			yaml:     "name: npm\nregistry_url: https://example.com\nprocedures:\n  install: npm ci",
			expected: ErrMissingPublish,
		},
		{
			name:     "bad health endpoint",
			yaml:     "name: npm\nregistry_url: https://example.com\nhealth_endpoint: not-a-url\nprocedures:\n  publish: x",
			expected: ErrInvalidEndpoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestValidate_ConfigErrorContext(t *testing.T) {
	_, err := Parse([]byte("name: npm\nprocedures:\n  publish: x"))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "npm", cfgErr.Platform)
	assert.Equal(t, "registry_url", cfgErr.Field)
	assert.Contains(t, cfgErr.Error(), `platform "npm"`)
}

func TestValidate_HealthEndpointOptional(t *testing.T) {
	cfg := Config{
		Name:        "cargo",
		RegistryURL: "https://crates.io",
		Procedures:  Procedures{Publish: "cargo publish"},
	}
	assert.NoError(t, cfg.Validate())
}
