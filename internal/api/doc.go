// Package api defines the wire-format types and converters shared by the
// daemon's HTTP control API and the CLI's JSON output.
//
// # Key Types
//
// Job: transport representation of a queued job with attempt, lock, and
// timing details.
//
// Stats: aggregate job counts by status and by job type.
//
// WorkflowStatus / DaemonStatus: worker and daemon runtime state, including
// handler readiness and whether this process holds the engine lock.
//
// EngineDecision: outcome of a content engine admission attempt.
//
// # Converters
//
// FromJob, FromStats, FromTopic, FromProject, FromPublication,
// FromStatusSummary, and FromDecision map internal models to DTOs.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as their lowercase string
// values and timestamps use RFC3339 with milliseconds in UTC. Job payloads and
// results pass through unchanged as JSON objects.
package api
