package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Validate checks the configuration for values the agent cannot run with.
// Defaults are applied before validation, so empty fields mean the operator
// explicitly zeroed them.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQuotaBounds(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.StatePath == "" {
		return fmt.Errorf("state_path must be set")
	}
	if !filepath.IsAbs(c.StatePath) {
		return fmt.Errorf("state_path must be absolute: %s", c.StatePath)
	}
	if c.ManagedRoot == "" {
		return fmt.Errorf("managed_root must be set")
	}
	if !filepath.IsAbs(c.ManagedRoot) {
		return fmt.Errorf("managed_root must be absolute: %s", c.ManagedRoot)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("data_dir must be absolute: %s", c.DataDir)
	}
	return nil
}

func (c *Config) validateQuotaBounds() error {
	if c.MinQuotaGB <= 0 {
		return fmt.Errorf("min_quota_gb must be positive: %g", c.MinQuotaGB)
	}
	if c.FirstProjectID == 0 {
		return fmt.Errorf("first_project_id must be positive")
	}
	return nil
}

func (c *Config) validateIntervals() error {
	sweep, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return fmt.Errorf("invalid sweep_interval: %s: %w", c.SweepInterval, err)
	}
	if sweep <= 0 {
		return fmt.Errorf("sweep_interval must be positive: %s", c.SweepInterval)
	}

	debounce, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return fmt.Errorf("invalid debounce: %s: %w", c.Debounce, err)
	}
	if debounce < 0 {
		return fmt.Errorf("debounce cannot be negative: %s", c.Debounce)
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled is true")
	}
	if c.Events.Enabled {
		if c.Events.URL == "" {
			return fmt.Errorf("events.url is required when events.enabled is true")
		}
		if c.Events.Subject == "" {
			return fmt.Errorf("events.subject is required when events.enabled is true")
		}
	}
	return nil
}
