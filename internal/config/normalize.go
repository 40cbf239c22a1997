package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeWorkflow()
	c.normalizeEngine()
	c.normalizeHandlers()
	c.normalizeRedis()
	c.normalizeStorage()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("STORYLOOM_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PollIntervalMillis <= 0 {
		c.Workflow.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Workflow.StaleSweepSeconds <= 0 {
		c.Workflow.StaleSweepSeconds = defaultStaleSweepSeconds
	}
	if c.Workflow.ErrorRetrySeconds <= 0 {
		c.Workflow.ErrorRetrySeconds = defaultErrorRetrySeconds
	}
	types := make([]string, 0, len(c.Workflow.RateLimitedTypes))
	for _, value := range c.Workflow.RateLimitedTypes {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			types = append(types, value)
		}
	}
	c.Workflow.RateLimitedTypes = types
}

func (c *Config) normalizeEngine() {
	if c.Engine.IntervalSeconds <= 0 {
		c.Engine.IntervalSeconds = defaultEngineIntervalSeconds
	}
	if c.Engine.SettingsCacheTTLSeconds < 0 {
		c.Engine.SettingsCacheTTLSeconds = 0
	}
	if c.Engine.TopicGeneratorTimeoutSec <= 0 {
		c.Engine.TopicGeneratorTimeoutSec = defaultTopicGeneratorTimeoutSec
	}
	c.Engine.TopicGeneratorCommand = strings.TrimSpace(c.Engine.TopicGeneratorCommand)
	if c.Engine.DuplicateTitleThreshold < 0 {
		c.Engine.DuplicateTitleThreshold = 0
	}
}

func (c *Config) normalizeHandlers() {
	if c.Handlers == nil {
		c.Handlers = map[string]Handler{}
		return
	}
	normalized := make(map[string]Handler, len(c.Handlers))
	for name, handler := range c.Handlers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		handler.Command = strings.TrimSpace(handler.Command)
		if handler.TimeoutSeconds <= 0 {
			handler.TimeoutSeconds = defaultHandlerTimeoutSeconds
		}
		normalized[key] = handler
	}
	c.Handlers = normalized
}

func (c *Config) normalizeRedis() {
	if c.Redis.Addr == "" {
		if value, ok := os.LookupEnv("REDIS_ADDR"); ok {
			c.Redis.Addr = value
		}
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if strings.TrimSpace(c.Redis.Channel) == "" {
		c.Redis.Channel = defaultRedisChannel
	}
}

func (c *Config) normalizeStorage() {
	envFallback := func(target *string, key string) {
		if strings.TrimSpace(*target) != "" {
			return
		}
		if value, ok := os.LookupEnv(key); ok {
			*target = strings.TrimSpace(value)
		}
	}
	envFallback(&c.Storage.Endpoint, "MINIO_ENDPOINT")
	envFallback(&c.Storage.AccessKey, "MINIO_ACCESS_KEY")
	envFallback(&c.Storage.SecretKey, "MINIO_SECRET_KEY")
	envFallback(&c.Storage.Bucket, "MINIO_BUCKET")
	if c.Storage.PresignMinute <= 0 {
		c.Storage.PresignMinute = defaultPresignMinutes
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
