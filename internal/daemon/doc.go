// Package daemon hosts the long-running storyloom process: it owns the worker
// manager, the content engine timer, and the HTTP control API.
//
// Any number of daemons may share one database. Every daemon runs workers;
// only the daemon holding the engine lock file runs the content engine, and
// standbys retry the lock on the engine interval so a successor takes over
// after the leader exits.
package daemon
