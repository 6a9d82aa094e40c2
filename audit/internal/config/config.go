// Package config provides configuration loading for the audit service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the audit service
type Config struct {
	Env          string             `mapstructure:"env"`
	Server       ServerConfig       `mapstructure:"server"`
	Rules        RulesConfig        `mapstructure:"rules"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Index        IndexConfig        `mapstructure:"index"`
	Database     DatabaseConfig     `mapstructure:"database"`
	OpenSearch   OpenSearchConfig   `mapstructure:"opensearch"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// RulesConfig points at the routing rules file. Empty uses the built-in set.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// ArchiveConfig selects the blob archive backend: objectstore, file or memory.
type ArchiveConfig struct {
	Backend  string `mapstructure:"backend"`
	BasePath string `mapstructure:"base_path"`
}

// IndexConfig selects the metadata index backend: postgres, opensearch or memory.
type IndexConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a postgres:// URL.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// OpenSearchConfig holds OpenSearch configuration
type OpenSearchConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
}

// RedisConfig holds Redis configuration for execution history
type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// WorkflowConfig bounds ingestion workflow runs
type WorkflowConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DispatchConfig controls fan-out and redelivery
type DispatchConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// NotificationConfig selects the delivery channel: nats, webhook or log
type NotificationConfig struct {
	Channel    string        `mapstructure:"channel"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Names derives per-environment resource names. It is computed once at
// startup and passed to the components that need it.
type Names struct {
	Env            string
	Bucket         string
	Index          string
	ConsumerPrefix string
}

// Consumer returns the durable consumer name for a worker kind.
func (n Names) Consumer(kind string) string {
	return n.ConsumerPrefix + "-" + kind
}

// Names returns the resource names for c.Env.
func (c *Config) Names() Names {
	env := c.Env
	if env == "" {
		env = "dev"
	}
	return Names{
		Env:            env,
		Bucket:         env + "-audit-events",
		Index:          env + "-audit-events",
		ConsumerPrefix: env + "-audit",
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Archive.Backend {
	case "objectstore", "file", "memory":
	default:
		return fmt.Errorf("archive.backend %q must be objectstore, file or memory", c.Archive.Backend)
	}
	if c.Archive.Backend == "objectstore" && !c.NATS.Enabled {
		return fmt.Errorf("archive.backend objectstore requires nats.enabled")
	}
	if c.Archive.Backend == "file" && c.Archive.BasePath == "" {
		return fmt.Errorf("archive.base_path is required for the file backend")
	}
	switch c.Index.Backend {
	case "postgres", "opensearch", "memory":
	default:
		return fmt.Errorf("index.backend %q must be postgres, opensearch or memory", c.Index.Backend)
	}
	switch c.Notification.Channel {
	case "nats", "webhook", "log":
	default:
		return fmt.Errorf("notification.channel %q must be nats, webhook or log", c.Notification.Channel)
	}
	if c.Notification.Channel == "nats" && !c.NATS.Enabled {
		return fmt.Errorf("notification.channel nats requires nats.enabled")
	}
	if c.Notification.Channel == "webhook" && c.Notification.WebhookURL == "" {
		return fmt.Errorf("notification.webhook_url is required for the webhook channel")
	}
	if c.Dispatch.MaxConcurrency < 1 {
		return fmt.Errorf("dispatch.max_concurrency must be positive")
	}
	if c.Workflow.Timeout <= 0 {
		return fmt.Errorf("workflow.timeout must be positive")
	}
	return nil
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("env", "dev")

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("rules.path", "")

	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("archive.backend", "objectstore")
	v.SetDefault("archive.base_path", "/var/lib/telhawk/audit")

	v.SetDefault("index.backend", "postgres")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "telhawk")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "telhawk_audit")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.insecure", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.ttl", "168h")

	v.SetDefault("workflow.timeout", "30s")

	v.SetDefault("dispatch.max_concurrency", 8)
	v.SetDefault("dispatch.max_deliver", 5)
	v.SetDefault("dispatch.ack_wait", "60s")
	v.SetDefault("dispatch.backoff_initial", "1s")
	v.SetDefault("dispatch.backoff_max", "1m")

	v.SetDefault("notification.channel", "nats")
	v.SetDefault("notification.webhook_url", "")
	v.SetDefault("notification.timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/telhawk/audit")
	}

	// Environment variables override (AUDIT_SERVER_PORT, etc.)
	v.SetEnvPrefix("AUDIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Only fail if a specific config path was given
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
