package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "objectstore", cfg.Archive.Backend)
	assert.Equal(t, "postgres", cfg.Index.Backend)
	assert.Equal(t, 30*time.Second, cfg.Workflow.Timeout)
	assert.Equal(t, 8, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, 5, cfg.Dispatch.MaxDeliver)
	assert.Equal(t, time.Second, cfg.Dispatch.BackoffInitial)
	assert.Equal(t, time.Minute, cfg.Dispatch.BackoffMax)
	assert.Equal(t, 168*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "nats", cfg.Notification.Channel)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
env: prod
server:
  port: 9090
archive:
  backend: file
  base_path: /data/audit
index:
  backend: opensearch
opensearch:
  url: https://search:9200
workflow:
  timeout: 5s
notification:
  channel: webhook
  webhook_url: http://hooks/audit
logging:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file", cfg.Archive.Backend)
	assert.Equal(t, "/data/audit", cfg.Archive.BasePath)
	assert.Equal(t, "opensearch", cfg.Index.Backend)
	assert.Equal(t, "https://search:9200", cfg.OpenSearch.URL)
	assert.Equal(t, 5*time.Second, cfg.Workflow.Timeout)
	assert.Equal(t, "http://hooks/audit", cfg.Notification.WebhookURL)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("AUDIT_ENV", "staging")
	t.Setenv("AUDIT_SERVER_PORT", "7777")
	t.Setenv("AUDIT_DATABASE_POSTGRES_HOST", "envhost")
	t.Setenv("AUDIT_DISPATCH_MAX_CONCURRENCY", "2")

	path := writeConfig(t, `
server:
  port: 8090
database:
  postgres:
    host: filehost
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "envhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 2, cfg.Dispatch.MaxConcurrency)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: [[[\n")
	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	cfg := &Config{Env: "prod"}
	n := cfg.Names()
	assert.Equal(t, "prod-audit-events", n.Bucket)
	assert.Equal(t, "prod-audit-events", n.Index)
	assert.Equal(t, "prod-audit-workflow", n.Consumer("workflow"))

	assert.Equal(t, "dev-audit-events", (&Config{}).Names().Bucket)
}

func TestPostgresConnString(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "audit", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/audit?sslmode=disable", p.ConnString())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := map[string]func(*Config){
		"unknown archive":          func(c *Config) { c.Archive.Backend = "s3" },
		"objectstore without nats": func(c *Config) { c.NATS.Enabled = false },
		"file without path":        func(c *Config) { c.Archive = ArchiveConfig{Backend: "file"} },
		"unknown index":            func(c *Config) { c.Index.Backend = "dynamo" },
		"unknown channel":          func(c *Config) { c.Notification.Channel = "sns" },
		"webhook without url":      func(c *Config) { c.Notification.Channel = "webhook" },
		"zero concurrency":         func(c *Config) { c.Dispatch.MaxConcurrency = 0 },
		"zero timeout":             func(c *Config) { c.Workflow.Timeout = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
