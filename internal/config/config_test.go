package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"storyloom/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndReadsEnv(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("STORYLOOM_API_TOKEN", " secret ")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "storyloom")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "storyloom.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.API.Token != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.API.Token)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected redis addr from env, got %q", cfg.Redis.Addr)
	}
	if cfg.Workflow.MaxConcurrent != config.Default().Workflow.MaxConcurrent {
		t.Fatalf("unexpected max concurrent: %d", cfg.Workflow.MaxConcurrent)
	}
	if len(cfg.Workflow.RateLimitedTypes) != 2 {
		t.Fatalf("expected default rate limited types, got %v", cfg.Workflow.RateLimitedTypes)
	}
	if cfg.PollInterval().Milliseconds() != 2000 {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
}

func TestLoadCustomConfigNormalizesHandlers(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := `
[paths]
data_dir = "~/data"

[workflow]
max_concurrent = 5
rate_limited_types = [" Generate_Narration ", ""]

[handlers." Generate_Story "]
command = " /bin/story "

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config to be found at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Workflow.MaxConcurrent != 5 {
		t.Fatalf("unexpected max concurrent: %d", cfg.Workflow.MaxConcurrent)
	}
	if got := cfg.Workflow.RateLimitedTypes; len(got) != 1 || got[0] != "generate_narration" {
		t.Fatalf("unexpected rate limited types: %v", got)
	}
	handler, ok := cfg.Handlers["generate_story"]
	if !ok {
		t.Fatalf("expected normalized handler key, got %v", cfg.Handlers)
	}
	if handler.Command != "/bin/story" {
		t.Fatalf("unexpected handler command: %q", handler.Command)
	}
	if handler.TimeoutSeconds <= 0 {
		t.Fatalf("expected default handler timeout, got %d", handler.TimeoutSeconds)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "zero concurrency",
			mutate:  func(c *config.Config) { c.Workflow.MaxConcurrent = 0 },
			wantErr: "max_concurrent",
		},
		{
			name:    "zero stale minutes",
			mutate:  func(c *config.Config) { c.Workflow.StaleMinutes = 0 },
			wantErr: "stale_minutes",
		},
		{
			name:    "duplicate threshold above one",
			mutate:  func(c *config.Config) { c.Engine.DuplicateTitleThreshold = 1.5 },
			wantErr: "duplicate_title_threshold",
		},
		{
			name: "handler without command",
			mutate: func(c *config.Config) {
				c.Handlers["generate_story"] = config.Handler{}
			},
			wantErr: "handlers.generate_story.command",
		},
		{
			name: "storage without bucket",
			mutate: func(c *config.Config) {
				c.Storage.Endpoint = "localhost:9000"
			},
			wantErr: "storage.bucket",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded map[string]any
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("Load(sample) returned error: %v", err)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "data", "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}
