// Package logging assembles structured slog loggers and formatting helpers used
// across storyloom services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker and orchestrator code
// can automatically tag log lines with job IDs, job types, topics, and
// correlation IDs. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
package logging
