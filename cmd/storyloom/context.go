package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"storyloom/internal/artifacts"
	"storyloom/internal/config"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// logger writes warnings and errors to stderr so command output stays clean.
func (c *commandContext) logger() *slog.Logger {
	cfg := c.configValue()
	format := "console"
	if cfg != nil {
		format = cfg.Logging.Format
	}
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      format,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// withStore opens the queue database for the duration of fn.
func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// orchestrator builds a pipeline orchestrator over store with the configured
// artifact storage and notifications.
func (c *commandContext) orchestrator(store *queue.Store) (*pipeline.Orchestrator, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	resolver, err := artifacts.NewResolver(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("artifact storage: %w", err)
	}
	return pipeline.New(store, c.logger(),
		pipeline.WithResolver(resolver),
		pipeline.WithNotifier(notifications.NewService(cfg)),
	), nil
}

// engine builds a content engine over store using the configured topic
// generator.
func (c *commandContext) engine(store *queue.Store) (*engine.Engine, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	orch, err := c.orchestrator(store)
	if err != nil {
		return nil, err
	}
	registry, err := stage.NewRegistryFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg, store, orch, c.logger(),
		engine.WithGenerator(engine.NewGenerator(cfg, registry)),
	), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
