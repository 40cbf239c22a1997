// Package daemonrun wires configuration, the queue store, handlers, and the
// long-running services into the storyloom daemon and worker processes.
package daemonrun
