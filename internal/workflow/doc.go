// Package workflow runs the worker loop that drains the job queue.
//
// The Manager polls the store (or wakes on an enqueue signal), claims jobs
// while fewer than max_concurrent are in flight, and dispatches each to the
// handler registered for its type. Rate-limited job types run at most one at
// a time per worker with a cooldown after each. Every finished job, whether
// completed or failed, is reported to an Observer; in production that is the
// pipeline orchestrator. A recurring sweep returns jobs abandoned by crashed
// workers to the queue.
package workflow
