// Package services defines shared utilities consumed by job handlers, the
// worker loop, and the pipeline orchestrator.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, job types, topic/project scope, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that tag failures for
//     later classification.
//   - Classify, which maps any handler error onto the failure taxonomy
//     (fatal with a category, throttle, or transient) by marker or by the
//     signatures external providers put in their error text.
//
// Use these helpers when wiring new handlers so retry and cancellation
// behaviour stays uniform across the pipeline.
package services
