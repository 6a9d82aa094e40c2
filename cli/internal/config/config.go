package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. THAWK_AUDIT_DEFAULTS_SERVER_URL.
const EnvPrefix = "THAWK_AUDIT"

type Config struct {
	CurrentProfile string              `mapstructure:"current_profile" yaml:"current_profile"`
	Profiles       map[string]*Profile `mapstructure:"profiles" yaml:"profiles"`
	Defaults       Defaults            `mapstructure:"defaults" yaml:"defaults"`
	path           string
}

// Defaults apply to every profile that leaves a field empty.
type Defaults struct {
	ServerURL string        `mapstructure:"server_url" yaml:"server_url"`
	Source    string        `mapstructure:"source" yaml:"source"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Profile points the CLI at one audit deployment.
type Profile struct {
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	Source    string `mapstructure:"source" yaml:"source,omitempty"`
	Author    string `mapstructure:"author" yaml:"author,omitempty"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults: Defaults{
			ServerURL: "http://localhost:8090",
			Source:    "thawk-audit",
			Timeout:   10 * time.Second,
		},
	}
}

// DefaultPath is $HOME/.thawk-audit/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".thawk-audit", "config.yaml"), nil
}

// Load reads cfgFile (or the default path) and applies THAWK_AUDIT_*
// environment overrides. A missing file yields the defaults.
func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		path, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = path
	}

	def := Default()
	v := viper.New()
	v.SetDefault("current_profile", def.CurrentProfile)
	v.SetDefault("defaults.server_url", def.Defaults.ServerURL)
	v.SetDefault("defaults.source", def.Defaults.Source)
	v.SetDefault("defaults.timeout", def.Defaults.Timeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(cfgFile)
	v.SetConfigType("yaml")
	if _, err := os.Stat(cfgFile); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	cfg.path = cfgFile
	return cfg, nil
}

func (c *Config) Save() error {
	if c.path == "" {
		path, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = path
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores p under name and makes it current.
func (c *Config) SaveProfile(name string, p *Profile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[name] = p
	c.CurrentProfile = name
	return c.Save()
}

// GetProfile returns the named profile, or the current one when name is
// empty. The built-in "default" profile always resolves, falling back to
// Defaults.
func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		if name != "default" {
			return nil, fmt.Errorf("profile '%s' not found", name)
		}
		profile = &Profile{}
	}

	resolved := *profile
	if resolved.ServerURL == "" {
		resolved.ServerURL = c.Defaults.ServerURL
	}
	if resolved.Source == "" {
		resolved.Source = c.Defaults.Source
	}
	resolved.ServerURL = strings.TrimRight(resolved.ServerURL, "/")
	return &resolved, nil
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = "default"
	}

	return c.Save()
}
