// Package engine implements the content engine: a periodic admission loop
// that keeps each project's publish buffer filled while never running more
// than one topic through the cost-bearing stages at a time.
//
// Each cycle evaluates every active, unpaused project and makes at most one
// admission: resume a stranded topic, advance the richest waiting topic, or
// mint candidates from the newest unconsumed source. Project settings are
// read through a short-lived cache that writers invalidate explicitly.
package engine
