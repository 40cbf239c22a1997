// Package daemonctl launches, stops, and queries a background storyloom
// daemon through its control API and pid file.
package daemonctl
