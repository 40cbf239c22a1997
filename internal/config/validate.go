package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if c.Engine.DuplicateTitleThreshold > 1 {
		return errors.New("engine.duplicate_title_threshold must be between 0 and 1")
	}
	if err := c.validateHandlers(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrent <= 0 {
		return errors.New("workflow.max_concurrent must be positive")
	}
	if c.Workflow.StaleMinutes <= 0 {
		return errors.New("workflow.stale_minutes must be positive")
	}
	if c.Workflow.RateLimitCooldownMS < 0 {
		return errors.New("workflow.rate_limit_cooldown_ms must not be negative")
	}
	return nil
}

func (c *Config) validateHandlers() error {
	for name, handler := range c.Handlers {
		if handler.Command == "" {
			return fmt.Errorf("handlers.%s.command must be set", name)
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.Storage.Endpoint) == "" {
		return nil
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		return errors.New("storage.bucket must be set when storage.endpoint is configured")
	}
	if strings.TrimSpace(c.Storage.AccessKey) == "" || strings.TrimSpace(c.Storage.SecretKey) == "" {
		return errors.New("storage.access_key and storage.secret_key must be set when storage.endpoint is configured")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
