// Package stage holds the handler registry the worker loop dispatches claimed
// jobs through.
//
// A Registry is built once at startup, usually from the [handlers] config
// section via NewRegistryFromConfig, and passed to the workflow manager. Each
// entry maps a job type to a Handler. CommandHandler is the stock
// implementation: it runs an external program with the job on stdin and reads
// a JSON result object from stdout.
package stage
