package preflight

import (
	"context"
	"fmt"

	"storyloom/internal/config"
	"storyloom/internal/stage"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks. registry may be nil, in
// which case handler checks are skipped.
func RunAll(ctx context.Context, cfg *config.Config, registry *stage.Registry) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if registry != nil {
		results = append(results, CheckHandlers(ctx, registry)...)
	}
	if cfg.Redis.Addr != "" {
		results = append(results, CheckRedis(ctx, cfg.Redis))
	}
	if cfg.Storage.Endpoint != "" {
		results = append(results, CheckStorage(ctx, cfg.Storage))
	}
	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failures returns the failed results rendered as "name: detail".
func Failures(results []Result) []string {
	var failures []string
	for _, r := range results {
		if !r.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	return failures
}
