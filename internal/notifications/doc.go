// Package notifications delivers pipeline events to ntfy.
//
// NewService returns a no-op implementation when no ntfy topic is configured.
// Callers publish an Event with a Payload map; the service renders the title,
// message and tags and drops events the configuration switched off.
package notifications
