// Package wakeup shortens the worker poll interval when new jobs arrive.
//
// Local signals only reach workers in the same process. Redis signals use a
// pub/sub channel so a job enqueued by the daemon, the CLI, or another worker
// wakes every idle worker. Either way the poll interval stays the fallback;
// a lost signal only delays a claim until the next poll.
package wakeup
