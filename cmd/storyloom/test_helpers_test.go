package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/queue"
	"storyloom/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	// Nothing listens on port 1, so daemon probes fail fast and commands act
	// on the database directly.
	cfg.API.Bind = "127.0.0.1:1"

	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "[paths]\ndata_dir = %q\nlog_dir = %q\n\n", cfg.Paths.DataDir, cfg.Paths.LogDir)
	fmt.Fprintf(&b, "[api]\nbind = %q\n\n", cfg.API.Bind)
	fmt.Fprintf(&b, "[logging]\nformat = \"json\"\nlevel = \"error\"\n\n")
	for name, handler := range cfg.Handlers {
		fmt.Fprintf(&b, "[handlers.%s]\ncommand = %q\ntimeout_seconds = %d\n\n", name, handler.Command, handler.TimeoutSeconds)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("storyloom %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (e *cliTestEnv) runJSON(t *testing.T, out any, args ...string) {
	t.Helper()
	raw := e.mustRun(t, append([]string{"--json"}, args...)...)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		t.Fatalf("decode %s output: %v\n%s", strings.Join(args, " "), err, raw)
	}
}

// store opens the environment's database after the CLI has released it.
func (e *cliTestEnv) store(t *testing.T) *queue.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, e.cfg)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
