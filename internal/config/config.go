package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the agent looks for its configuration when the
// --config flag is not given.
const DefaultConfigPath = "/etc/quotad/config.yaml"

// Config represents the agent configuration
type Config struct {
	// StatePath is the desired-state JSON document maintained by the web service.
	StatePath string `yaml:"state_path"`

	// ManagedRoot is the directory whose immediate children are the group
	// directories. The agent never creates it or anything under it.
	ManagedRoot string `yaml:"managed_root"`

	// DataDir holds the agent's own files: mapping files, retag markers,
	// lock file, journal database.
	DataDir string `yaml:"data_dir"`

	// MinQuotaGB is the smallest accepted quota. Values below it are
	// rejected, never clamped.
	MinQuotaGB float64 `yaml:"min_quota_gb"`

	// FirstProjectID is the lowest project id handed out to a new group.
	FirstProjectID uint32 `yaml:"first_project_id"`

	// SweepInterval is the fallback reconcile interval (Go duration string).
	SweepInterval string `yaml:"sweep_interval"`

	// Debounce coalesces bursts of state-document change events.
	Debounce string `yaml:"debounce"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the admin HTTP endpoint (metrics, health, status).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// EventsConfig controls the optional NATS run-summary publisher.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadOrDefault loads the given config path, or the default path when empty.
// A missing default path is not an error; the built-in defaults apply.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return Load(DefaultConfigPath)
	}
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StatePath == "" {
		c.StatePath = "/var/lib/quotad/group-quotas.json"
	}
	if c.ManagedRoot == "" {
		c.ManagedRoot = "/OMERO/ManagedRepository"
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/quotad"
	}
	if c.MinQuotaGB == 0 {
		c.MinQuotaGB = 0.10
	}
	if c.FirstProjectID == 0 {
		c.FirstProjectID = 200000
	}
	if c.SweepInterval == "" {
		c.SweepInterval = "5m"
	}
	if c.Debounce == "" {
		c.Debounce = "2s"
	}
	c.Logging.Level = string(NormalizeLogLevel(c.Logging.Level))
	c.Logging.Format = string(NormalizeLogFormat(c.Logging.Format))
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.Events.URL == "" {
		c.Events.URL = "nats://127.0.0.1:4222"
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "quotad.runs"
	}
}

// Derived paths under DataDir. Kept in one place so every package agrees on
// the on-disk layout.

// GroupsMapPath is the group_name:project_id mapping file.
func (c *Config) GroupsMapPath() string {
	return filepath.Join(c.DataDir, "groups.map")
}

// PathsMapPath is the project_id:absolute_path mapping file.
func (c *Config) PathsMapPath() string {
	return filepath.Join(c.DataDir, "paths.map")
}

// MarkersDir holds the per-group retag completion markers.
func (c *Config) MarkersDir() string {
	return filepath.Join(c.DataDir, "markers")
}

// LockPath is the host-wide enforcement lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "quotad.lock")
}

// JournalPath is the SQLite run journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// SweepIntervalDuration returns the parsed sweep interval. Validate has
// already checked it parses.
func (c *Config) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// DebounceDuration returns the parsed debounce window.
func (c *Config) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
