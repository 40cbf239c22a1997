// Package queue persists jobs, topics, projects, sources, visual assets, and
// publications in SQLite and exposes the claim protocol that drives them.
//
// The Store manages database connections, schema initialization, the atomic
// single-statement claim, completion and failure bookkeeping with retry
// backoff, cancellation cascades, stale-job recovery, and the read models the
// content engine and control API need. Topic stage updates go through a
// monotonic compare-and-set so concurrent orchestrators can never move a
// topic backwards.
//
// Schema changes bump the version in schema.go; operators clear the database
// to adopt the new schema.
package queue
