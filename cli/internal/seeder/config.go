package seeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config controls event generation.
type Config struct {
	Count       int           `mapstructure:"count" yaml:"count"`
	Entities    int           `mapstructure:"entities" yaml:"entities"`
	Authors     int           `mapstructure:"authors" yaml:"authors"`
	EntityTypes []string      `mapstructure:"entity_types" yaml:"entity_types"`
	DeleteRatio float64       `mapstructure:"delete_ratio" yaml:"delete_ratio"`
	TimeSpread  time.Duration `mapstructure:"time_spread" yaml:"time_spread"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	Source      string        `mapstructure:"source" yaml:"source"`
	Seed        int64         `mapstructure:"seed" yaml:"seed"`
}

// LoadConfig loads configuration with cascade: ./seeder.yaml > ~/.thawk-audit/seeder.yaml > defaults.
// SEEDER_* environment variables override file values.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("seeder")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEEDER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".thawk-audit"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("count", 500)
	v.SetDefault("entities", 50)
	v.SetDefault("authors", 5)
	v.SetDefault("entity_types", []string{"book", "customer", "order", "invoice"})
	v.SetDefault("delete_ratio", 0.1)
	v.SetDefault("time_spread", 24*time.Hour)
	v.SetDefault("concurrency", 4)
	v.SetDefault("interval", 0)
	v.SetDefault("source", "thawk-audit-seeder")
	v.SetDefault("seed", 0)
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Count < 1 {
		return fmt.Errorf("count must be positive")
	}
	if c.Entities < 1 {
		return fmt.Errorf("entities must be positive")
	}
	if c.Authors < 1 {
		return fmt.Errorf("authors must be positive")
	}
	if len(c.EntityTypes) == 0 {
		return fmt.Errorf("at least one entity type is required")
	}
	for _, t := range c.EntityTypes {
		if _, ok := dataGenerators[t]; !ok {
			return fmt.Errorf("unknown entity type %q", t)
		}
	}
	if c.DeleteRatio < 0 || c.DeleteRatio > 1 {
		return fmt.Errorf("delete_ratio must be within [0, 1]")
	}
	if c.TimeSpread < 0 {
		return fmt.Errorf("time_spread must not be negative")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	return nil
}
