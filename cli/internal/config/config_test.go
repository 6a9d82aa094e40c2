package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.NotNil(t, cfg.Profiles)
	assert.Empty(t, cfg.Profiles)
	assert.Equal(t, "http://localhost:8090", cfg.Defaults.ServerURL)
	assert.Equal(t, "thawk-audit", cfg.Defaults.Source)
	assert.Equal(t, 10*time.Second, cfg.Defaults.Timeout)
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.Equal(t, "http://localhost:8090", cfg.Defaults.ServerURL)

	p, err := cfg.GetProfile("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090", p.ServerURL)
	assert.Equal(t, "thawk-audit", p.Source)
}

func TestLoad_WithConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `current_profile: staging
profiles:
  staging:
    server_url: https://audit.staging.example.com/
    author: ops@example.com
defaults:
  source: books
  timeout: 3s
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.CurrentProfile)
	assert.Equal(t, 3*time.Second, cfg.Defaults.Timeout)
	assert.Equal(t, "http://localhost:8090", cfg.Defaults.ServerURL, "unset defaults keep built-ins")

	p, err := cfg.GetProfile("")
	require.NoError(t, err)
	assert.Equal(t, "https://audit.staging.example.com", p.ServerURL)
	assert.Equal(t, "books", p.Source)
	assert.Equal(t, "ops@example.com", p.Author)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("THAWK_AUDIT_DEFAULTS_SERVER_URL", "http://audit:9000")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://audit:9000", cfg.Defaults.ServerURL)
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("profiles: [unclosed"), 0600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.NoError(t, cfg.SaveProfile("prod", &Profile{ServerURL: "https://audit.example.com", Author: "me@x"}))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "prod", reloaded.CurrentProfile)
	p, err := reloaded.GetProfile("prod")
	require.NoError(t, err)
	assert.Equal(t, "https://audit.example.com", p.ServerURL)
	assert.Equal(t, "me@x", p.Author)
	assert.Equal(t, 10*time.Second, reloaded.Defaults.Timeout)
}

func TestGetProfile_NotFound(t *testing.T) {
	cfg := Default()

	_, err := cfg.GetProfile("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile 'nonexistent' not found")
}

func TestRemoveProfile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.SaveProfile("prod", &Profile{ServerURL: "https://audit.example.com"}))

	require.NoError(t, cfg.RemoveProfile("prod"))
	assert.NotContains(t, cfg.Profiles, "prod")
	assert.Equal(t, "default", cfg.CurrentProfile)

	assert.Error(t, cfg.RemoveProfile("prod"))
}
