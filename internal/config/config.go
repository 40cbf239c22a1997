package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains configuration for the daemon control API.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Workflow contains configuration for the worker loop and stale-job recovery.
type Workflow struct {
	PollIntervalMillis  int      `toml:"poll_interval_ms"`
	MaxConcurrent       int      `toml:"max_concurrent"`
	StaleMinutes        int      `toml:"stale_minutes"`
	StaleSweepSeconds   int      `toml:"stale_sweep_seconds"`
	RateLimitedTypes    []string `toml:"rate_limited_types"`
	RateLimitCooldownMS int      `toml:"rate_limit_cooldown_ms"`
	ErrorRetrySeconds   int      `toml:"error_retry_seconds"`
}

// Engine contains configuration for the content engine admission loop.
type Engine struct {
	Enabled                  bool    `toml:"enabled"`
	IntervalSeconds          int     `toml:"interval_seconds"`
	SettingsCacheTTLSeconds  int     `toml:"settings_cache_ttl_seconds"`
	StrandedGraceMinutes     int     `toml:"stranded_grace_minutes"`
	TopicGeneratorCommand    string  `toml:"topic_generator_command"`
	TopicGeneratorTimeoutSec int     `toml:"topic_generator_timeout_seconds"`
	DuplicateTitleThreshold  float64 `toml:"duplicate_title_threshold"`
}

// Handler describes an external program that executes one job type.
type Handler struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Redis contains configuration for cross-process worker wakeups.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// Storage contains configuration for the artifact object store.
type Storage struct {
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	UseSSL        bool   `toml:"use_ssl"`
	PresignMinute int    `toml:"presign_minutes"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	TopicFailures  bool   `toml:"topic_failures"`
	Publications   bool   `toml:"publications"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for storyloom.
//
// Configuration sections by subsystem:
//   - Paths: queue database and log directories
//   - API: control API bind address and bearer token
//   - Workflow: worker polling, concurrency, rate-limit cooldown, stale sweep
//   - Engine: content engine cadence, settings cache, topic generator command
//   - Handlers: external program per job type
//   - Redis: optional cross-process wakeup channel
//   - Storage: optional MinIO/S3 artifact store for publish references
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths              `toml:"paths"`
	API           API                `toml:"api"`
	Workflow      Workflow           `toml:"workflow"`
	Engine        Engine             `toml:"engine"`
	Handlers      map[string]Handler `toml:"handlers"`
	Redis         Redis              `toml:"redis"`
	Storage       Storage            `toml:"storage"`
	Notifications Notifications      `toml:"notifications"`
	Logging       Logging            `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("storyloom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the queue database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "storyloom.db")
}

// EngineLockPath returns the lock file guarding the content engine timer.
func (c *Config) EngineLockPath() string {
	return filepath.Join(c.Paths.DataDir, "engine.lock")
}

// AdmissionLockPath returns the lock file serializing engine admission
// decisions across processes.
func (c *Config) AdmissionLockPath() string {
	return filepath.Join(c.Paths.DataDir, "admission.lock")
}

// PollInterval returns the worker poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalMillis) * time.Millisecond
}

// StaleAfter returns the processing age after which a job is reclaimed.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Workflow.StaleMinutes) * time.Minute
}

// StaleSweepInterval returns the cadence of the stale-job sweep.
func (c *Config) StaleSweepInterval() time.Duration {
	return time.Duration(c.Workflow.StaleSweepSeconds) * time.Second
}

// RateLimitCooldown returns the pause enforced after a rate-limited job.
func (c *Config) RateLimitCooldown() time.Duration {
	return time.Duration(c.Workflow.RateLimitCooldownMS) * time.Millisecond
}

// EngineInterval returns the content engine cadence.
func (c *Config) EngineInterval() time.Duration {
	return time.Duration(c.Engine.IntervalSeconds) * time.Second
}

// SettingsCacheTTL returns how long project settings may be served stale.
func (c *Config) SettingsCacheTTL() time.Duration {
	return time.Duration(c.Engine.SettingsCacheTTLSeconds) * time.Second
}

// StrandedGrace returns how long a topic must sit idle before it counts as stranded.
func (c *Config) StrandedGrace() time.Duration {
	return time.Duration(c.Engine.StrandedGraceMinutes) * time.Minute
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
