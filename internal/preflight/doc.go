// Package preflight provides readiness checks for the filesystem paths and
// external services storyloom depends on.
//
// The daemon runs RunAll before starting its worker and logs every failure;
// the CLI "storyloom status" command renders the same results as a table.
// Optional integrations (Redis wakeup, object storage, ntfy) are only
// checked when configured.
package preflight
