// Command storyloom runs the content pipeline daemon and workers and offers
// operator commands that act on the queue database directly.
package main
